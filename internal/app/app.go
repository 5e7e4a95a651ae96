// Package app wires the infrastructure shared by the API server and the
// scheduler.
package app

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/database"
	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/lock"
	"github.com/javajoker/fanvault-backend/internal/repository"
	"github.com/javajoker/fanvault-backend/internal/router"
	"github.com/javajoker/fanvault-backend/internal/services"
	"github.com/javajoker/fanvault-backend/pkg/rabbitmq"
)

type App struct {
	Config        *config.Config
	DB            *gorm.DB
	Redis         *redis.Client
	Events        rabbitmq.Publisher
	Notifications *services.NotificationService
	Deps          router.Dependencies
	Services      *router.Services
}

// ConfigureLogging switches logrus to JSON outside development.
func ConfigureLogging(cfg *config.Config) {
	if cfg.Environment == "development" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)
}

// New connects the database, migrates and seeds it, and builds the services.
// Redis and RabbitMQ are optional; without them the process runs on database
// row locks and log-only events.
func New(cfg *config.Config) (*App, error) {
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(db); err != nil {
		database.Close(db)
		return nil, err
	}
	if err := database.SeedInitialData(db); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to seed initial data: %w", err)
	}

	a := &App{Config: cfg, DB: db}

	var locker lock.Locker = lock.NoopLocker{}
	if a.Redis, err = database.InitRedis(cfg.Redis); err != nil {
		a.Close()
		return nil, err
	}
	if a.Redis != nil {
		locker = lock.NewRedisLocker(a.Redis)
	}

	a.Events = rabbitmq.EventProducerFallback{}
	if cfg.RabbitMQ.URL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			logrus.WithError(err).Warn("RabbitMQ unavailable, transaction events will only be logged")
		} else {
			a.Events = producer
		}
	}

	archive, err := services.NewStorageService(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	store := repository.NewGormStore(db)
	a.Notifications = services.NewNotificationService(store, cfg)
	a.Deps = router.Dependencies{
		Store:    store,
		Gateways: gateway.NewRegistryFromConfig(cfg),
		Locker:   locker,
		Events:   a.Events,
		Notifier: a.Notifications,
		Archive:  archive,
	}
	a.Services = router.NewServices(cfg, a.Deps)

	logrus.WithField("gateways", a.Deps.Gateways.Names()).Info("Application services ready")
	return a, nil
}

// Close drains pending notifications and releases every connection.
func (a *App) Close() {
	if a.Notifications != nil {
		a.Notifications.Wait()
	}
	if a.Events != nil {
		a.Events.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logrus.WithError(err).Error("Error closing redis connection")
		}
	}
	if a.DB != nil {
		database.Close(a.DB)
	}
}
