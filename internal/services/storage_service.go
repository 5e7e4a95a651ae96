// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/config"
)

// Archiver keeps the raw body of every inbound gateway notification.
type Archiver interface {
	ArchiveWebhook(ctx context.Context, gateway string, eventID uuid.UUID, payload []byte) (string, error)
}

type StorageService struct {
	s3Client s3iface.S3API
	config   *config.Config
	now      func() time.Time
}

func NewStorageService(config *config.Config) (*StorageService, error) {
	if config.AWS.AccessKeyID == "" || config.AWS.S3Bucket == "" {
		// Return service without S3 for local development
		return &StorageService{config: config, now: time.Now}, nil
	}

	// Create AWS session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AWS.AccessKeyID,
			config.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewStorageServiceWithClient(config, s3.New(sess)), nil
}

func NewStorageServiceWithClient(config *config.Config, client s3iface.S3API) *StorageService {
	return &StorageService{s3Client: client, config: config, now: time.Now}
}

// ArchiveWebhook writes the payload under
// <prefix>/<gateway>/<yyyy>/<mm>/<dd>/<event id>.txt and returns the key.
// Without S3 the key is computed and the payload is only logged.
func (s *StorageService) ArchiveWebhook(ctx context.Context, gateway string, eventID uuid.UUID, payload []byte) (string, error) {
	key := s.archiveKey(gateway, eventID)

	if s.s3Client == nil {
		logrus.WithFields(logrus.Fields{
			"key":   key,
			"bytes": len(payload),
		}).Debug("S3 not configured, webhook payload not archived")
		return key, nil
	}

	params := &s3.PutObjectInput{
		Bucket:               aws.String(s.config.AWS.S3Bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(payload),
		ContentType:          aws.String("text/plain; charset=utf-8"),
		ContentLength:        aws.Int64(int64(len(payload))),
		ServerSideEncryption: aws.String(s3.ServerSideEncryptionAes256),
	}
	if _, err := s.s3Client.PutObjectWithContext(ctx, params); err != nil {
		return "", fmt.Errorf("failed to archive webhook to S3: %w", err)
	}
	return key, nil
}

func (s *StorageService) archiveKey(gateway string, eventID uuid.UUID) string {
	prefix := s.config.AWS.ArchivePrefix
	if prefix == "" {
		prefix = "webhooks"
	}
	return path.Join(prefix, gateway, s.now().UTC().Format("2006/01/02"), eventID.String()+".txt")
}
