// cmd/scheduler/main.go
//
// The scheduler is a long-running process without an HTTP surface. It runs
// subscription expiry, earnings clearance and referral retries on cron specs.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/app"
	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/jobs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	app.ConfigureLogging(cfg)

	application, err := app.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	work := jobs.NewJobs(
		application.Services.Subscriptions,
		application.Services.Payments,
		application.Deps.Locker,
		cfg.Scheduler.BatchSize,
	)
	scheduler := jobs.NewScheduler(work, cfg.Scheduler)
	if err := scheduler.Register(); err != nil {
		logrus.WithError(err).Fatal("Failed to register scheduled jobs")
	}

	scheduler.Start()
	logrus.WithField("jobs", scheduler.Entries()).Info("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutdown signal received, stopping scheduler")
	<-scheduler.Stop().Done()
	logrus.Info("Scheduler stopped")
}
