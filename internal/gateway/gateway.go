// Package gateway translates settlement intents into payment provider
// requests and parses provider notifications back into ledger outcomes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/fanvault-backend/internal/models"
)

// ErrIntegrityViolation marks a notification whose digest or signature does
// not match; it must be discarded without touching any transaction.
var ErrIntegrityViolation = errors.New("notification integrity violation")

// GatewayError is an outbound provider call that failed or returned an
// unparseable response.
type GatewayError struct {
	Gateway    string
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Gateway, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Gateway, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

type NotificationClass string

const (
	ClassNewSaleSuccess NotificationClass = "new-sale-success"
	ClassNewSaleFailure NotificationClass = "new-sale-failure"
	ClassRefund         NotificationClass = "refund"
	ClassRenewalSuccess NotificationClass = "renewal-success"
	ClassRenewalFailure NotificationClass = "renewal-failure"
	ClassCancellation   NotificationClass = "cancellation"
	ClassExpiration     NotificationClass = "expiration"
	ClassUnknown        NotificationClass = "unknown"
)

// SettlementRequest is what an adapter needs to build the payer redirect.
type SettlementRequest struct {
	Token          string
	PayerID        uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Kind           models.TransactionKind
	DurationMonths int
	Description    string
}

// Recurring reports whether the provider should set up rebilling.
func (r SettlementRequest) Recurring() bool {
	return r.DurationMonths > 0
}

// RedirectDescriptor is returned to the caller when settlement continues at
// the provider.
type RedirectDescriptor struct {
	Gateway   string `json:"gateway"`
	URL       string `json:"url"`
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
	Digest    string `json:"-"`
}

// RawNotification is an inbound provider callback as received over HTTP.
type RawNotification struct {
	EventType string
	Body      []byte
	Query     url.Values
	Headers   http.Header
}

// Notification is a provider callback in ledger vocabulary. Verified is set
// when a digest or signature covering the outcome was checked.
type Notification struct {
	Gateway           string
	Class             NotificationClass
	EventType         string
	Token             string
	Approved          bool
	ExternalReference string
	SubscriptionID    string
	Amount            decimal.Decimal
	Currency          string
	Reason            string
	Verified          bool
}

// Adapter is implemented by every payment provider integration.
type Adapter interface {
	Name() string
	BuildSettlementRequest(ctx context.Context, req SettlementRequest) (*RedirectDescriptor, error)
	HandleNotification(ctx context.Context, raw RawNotification) (*Notification, error)
	Refund(ctx context.Context, txn *models.Transaction) error
	CancelSubscription(ctx context.Context, externalID string) error
}

// HTTPDoer is the subset of *http.Client adapters use for outbound calls.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
