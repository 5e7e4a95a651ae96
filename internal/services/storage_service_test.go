package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/gateway"
)

type fakeS3 struct {
	s3iface.S3API
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func archiveConfig() *config.Config {
	return &config.Config{AWS: config.AWSConfig{Region: "us-east-1", S3Bucket: "fanvault-webhooks", ArchivePrefix: "raw"}}
}

func TestArchiveWebhookWritesEncryptedObject(t *testing.T) {
	client := &fakeS3{}
	storage := NewStorageServiceWithClient(archiveConfig(), client)
	storage.now = func() time.Time { return testNow }
	id := uuid.New()

	key, err := storage.ArchiveWebhook(context.Background(), gateway.CCBillName, id, []byte("eventType=NewSaleSuccess"))
	require.NoError(t, err)

	assert.Equal(t, "raw/ccbill/2026/03/01/"+id.String()+".txt", key)
	require.NotNil(t, client.input)
	assert.Equal(t, "fanvault-webhooks", aws.StringValue(client.input.Bucket))
	assert.Equal(t, key, aws.StringValue(client.input.Key))
	assert.Equal(t, s3.ServerSideEncryptionAes256, aws.StringValue(client.input.ServerSideEncryption))
	assert.Equal(t, "eventType=NewSaleSuccess", string(client.body))
}

func TestArchiveWebhookWithoutS3(t *testing.T) {
	storage, err := NewStorageService(&config.Config{})
	require.NoError(t, err)
	storage.now = func() time.Time { return testNow }
	id := uuid.New()

	key, err := storage.ArchiveWebhook(context.Background(), gateway.TestAdapterName, id, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "webhooks/test/2026/03/01/"+id.String()+".txt", key)
}

func TestWebhookJournalKeepsArchiveKey(t *testing.T) {
	f := newFixture(t)
	client := &fakeS3{}
	storage := NewStorageServiceWithClient(archiveConfig(), client)
	webhooks := NewWebhookService(f.store, f.registry, f.payments, f.subs, storage)

	result, err := webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{EventType: "chargeback", Body: []byte("{}")})
	require.NoError(t, err)
	assert.Equal(t, "ignored", string(result.Status))

	events := f.store.WebhookEvents()
	require.Len(t, events, 1)
	assert.Equal(t, aws.StringValue(client.input.Key), events[0].ArchiveKey)
	assert.Equal(t, "{}", events[0].Payload)
}

func TestWebhookArchiveFailureDoesNotBlockProcessing(t *testing.T) {
	f := newFixture(t)
	storage := NewStorageServiceWithClient(archiveConfig(), &fakeS3{err: errors.New("access denied")})
	webhooks := NewWebhookService(f.store, f.registry, f.payments, f.subs, storage)

	result, err := webhooks.HandleWebhook(f.ctx, gateway.TestAdapterName, gateway.RawNotification{EventType: "chargeback"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.EventID)
	assert.Empty(t, f.store.WebhookEvents()[0].ArchiveKey)
}
