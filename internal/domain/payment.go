package domain

import "time"

// PaymentIntentStatus enumerates the lifecycle of a PaymentIntent.
type PaymentIntentStatus string

const (
	PaymentIntentStatusRequiresAction PaymentIntentStatus = "REQUIRES_ACTION"
	PaymentIntentStatusProcessing     PaymentIntentStatus = "PROCESSING"
	PaymentIntentStatusSucceeded      PaymentIntentStatus = "SUCCEEDED"
	PaymentIntentStatusFailed         PaymentIntentStatus = "FAILED"
	PaymentIntentStatusBlocked        PaymentIntentStatus = "BLOCKED"
)

// PaymentIntent records a provider-facing payment attempt against an Order.
// AmountCents is always copied from Order.ComputeTotal(), never from client input.
type PaymentIntent struct {
	ID          int64
	OrderID     int64
	UserID      int64
	AmountCents int64
	Currency    string
	Status       PaymentIntentStatus
	ProviderRef  string
	ClientSecret string
	FraudScore   int
	CreatedAt    time.Time
}

// WebhookEvent is a de-duplication record for processed provider webhooks.
type WebhookEvent struct {
	ID         string
	Provider   string
	EventType  string
	Signature  string
	ReceivedAt time.Time
	Processed  bool
}
