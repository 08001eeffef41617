// Package payment implements the fraud-gated payment-intent flow: load
// products, compute authoritative pricing, score the attempt, create the
// order, call the provider, and persist the result. It never trusts a
// client-supplied price.
package payment

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/shieldcart-auth/internal/anomaly"
	"github.com/smallbiznis/shieldcart-auth/internal/apierror"
	"github.com/smallbiznis/shieldcart-auth/internal/audit"
	"github.com/smallbiznis/shieldcart-auth/internal/domain"
	"github.com/smallbiznis/shieldcart-auth/internal/repository"
)

// RequestedItem is a client-supplied line item; only ProductID and Quantity
// are trusted, pricing is always looked up server-side.
type RequestedItem struct {
	ProductID string
	Quantity  int
}

// ProductCatalog is the minimal read contract the gate needs to price
// requested items; the full catalog/cart domain is out of scope here.
type ProductCatalog interface {
	PriceCents(ctx context.Context, productID string) (cents int64, active bool, err error)
}

// Provider is the external payment provider's create-intent contract.
type Provider interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (providerRef string, clientSecret string, err error)
}

// AnomalyAlert describes an order whose anomaly score crossed the alert
// threshold, for delivery to an external paging/alerting channel.
type AnomalyAlert struct {
	UserID  int64
	OrderID int64
	Score   int
	Reasons []string
}

// AlertFunc is invoked for every order scoring at or above alertThreshold.
// It must not block request handling for long; callers wanting async
// delivery (webhook, pager) should hand off and return.
type AlertFunc func(ctx context.Context, alert AnomalyAlert)

// suspiciousThreshold and alertThreshold are the two tiers the order-anomaly
// signal reacts at: an audit entry at suspiciousThreshold, an external alert
// at alertThreshold. Neither blocks order creation — ScorePaymentGate alone
// gates that, via Gate.threshold.
const (
	suspiciousThreshold = 60
	alertThreshold       = 70
)

// Gate runs the payment-intent flow. Its threshold field is the score
// at/above which intent creation is refused; configurable via
// FRAUD_SCORE_THRESHOLD, defaulting to anomaly.FraudGateThreshold.
type Gate struct {
	catalog   ProductCatalog
	provider  Provider
	orders    repository.OrderRepository
	payments  repository.PaymentRepository
	scorer    *anomaly.Scorer
	audit     *audit.Writer
	ids       *snowflake.Node
	threshold int
	alert     AlertFunc
}

// NewGate builds a payment Gate. threshold is the fraud score cutoff (spec
// default 80, overridable via FRAUD_SCORE_THRESHOLD). alertFn may be nil, in
// which case order-anomaly alerts are dropped (still audited).
func NewGate(catalog ProductCatalog, provider Provider, orders repository.OrderRepository, payments repository.PaymentRepository, scorer *anomaly.Scorer, auditWriter *audit.Writer, ids *snowflake.Node, threshold int, alertFn AlertFunc) *Gate {
	if threshold <= 0 {
		threshold = anomaly.FraudGateThreshold
	}
	if alertFn == nil {
		alertFn = func(context.Context, AnomalyAlert) {}
	}
	return &Gate{catalog: catalog, provider: provider, orders: orders, payments: payments, scorer: scorer, audit: auditWriter, ids: ids, threshold: threshold, alert: alertFn}
}

// CreateIntent runs the full gate: price from the catalog, reject on
// zero/negative total, score for fraud, persist the order, call the
// provider, and persist the resulting intent.
func (g *Gate) CreateIntent(ctx context.Context, userID int64, ip string, items []RequestedItem) (domain.PaymentIntent, error) {
	if len(items) == 0 {
		return domain.PaymentIntent{}, apierror.New(apierror.KindInvalidRequest, "At least one item is required.")
	}

	order := domain.Order{UserID: userID, Status: domain.OrderStatusPending}
	for _, requested := range items {
		if requested.Quantity < 1 || requested.Quantity > 100 {
			return domain.PaymentIntent{}, apierror.New(apierror.KindInvalidRequest, "Quantity must be between 1 and 100.")
		}
		cents, active, err := g.catalog.PriceCents(ctx, requested.ProductID)
		if err != nil {
			return domain.PaymentIntent{}, apierror.Wrap(apierror.KindInvalidRequest, "Could not price one or more items.", err)
		}
		if !active {
			return domain.PaymentIntent{}, apierror.New(apierror.KindInvalidRequest, "One or more products are unavailable.")
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:      requested.ProductID,
			UnitPriceCents: cents,
			Quantity:       requested.Quantity,
		})
	}

	total := order.ComputeTotal()
	order.SubtotalCents = total
	order.TotalCents = total
	if total <= 0 {
		return domain.PaymentIntent{}, apierror.New(apierror.KindInvalidRequest, "Order total must be positive.")
	}

	result := g.scorer.ScorePaymentGate(ctx, userID, ip, total)
	if result.Score >= g.threshold {
		g.auditBlocked(ctx, userID, ip, total, result)
		return domain.PaymentIntent{}, apierror.New(apierror.KindForbidden, "This payment could not be completed.")
	}

	createdOrder, err := g.orders.Create(ctx, order)
	if err != nil {
		return domain.PaymentIntent{}, apierror.Wrap(apierror.KindInternal, "Could not create order.", err)
	}
	g.auditOrderCreated(ctx, userID, ip, createdOrder)

	orderAnomaly := g.scorer.ScoreOrder(ctx, userID, total, "")
	g.handleOrderAnomaly(ctx, userID, createdOrder.ID, orderAnomaly)

	g.auditInitiated(ctx, userID, ip, createdOrder, result)

	providerRef, clientSecret, err := g.provider.CreateIntent(ctx, total, "USD", map[string]string{
		"orderId": fmt.Sprintf("%d", createdOrder.ID),
		"userId":  fmt.Sprintf("%d", userID),
	})
	if err != nil {
		return domain.PaymentIntent{}, apierror.Wrap(apierror.KindProvider, "Payment provider is unavailable.", err)
	}

	intent, err := g.payments.Create(ctx, domain.PaymentIntent{
		OrderID:      createdOrder.ID,
		UserID:       userID,
		AmountCents:  total,
		Currency:     "USD",
		Status:       domain.PaymentIntentStatusProcessing,
		ProviderRef:  providerRef,
		ClientSecret: clientSecret,
		FraudScore:   result.Score,
	})
	if err != nil {
		return domain.PaymentIntent{}, apierror.Wrap(apierror.KindInternal, "Could not persist payment intent.", err)
	}

	_ = g.payments.RecordAttemptIP(ctx, intent.ID, userID, ip)
	return intent, nil
}

func (g *Gate) auditBlocked(ctx context.Context, userID int64, ip string, amount int64, result domain.AnomalyResult) {
	if g.audit == nil {
		return
	}
	score := result.Score
	_, _ = g.audit.Append(ctx, domain.AuditLogEntry{
		EventType: domain.EventSecurityFraudDetected,
		UserID:    &userID,
		Action:    "payment_intent_create",
		Resource:  "payment_intent",
		Result:    domain.AuditResultFailure,
		RiskScore: &score,
		IPAddress: ip,
		Metadata:  map[string]any{"amountCents": amount, "fraudScore": result.Score, "reasons": result.Reasons},
	})
}

// auditOrderCreated records order.created at the point the order row is
// persisted — distinct from, and prior to, the payment.initiated event
// auditInitiated emits once the provider call is about to be made.
func (g *Gate) auditOrderCreated(ctx context.Context, userID int64, ip string, order domain.Order) {
	if g.audit == nil {
		return
	}
	resourceID := fmt.Sprintf("%d", order.ID)
	_, _ = g.audit.Append(ctx, domain.AuditLogEntry{
		EventType:  domain.EventOrderCreated,
		UserID:     &userID,
		Action:     "order_create",
		Resource:   "order",
		ResourceID: &resourceID,
		Result:     domain.AuditResultSuccess,
		IPAddress:  ip,
		Metadata:   map[string]any{"orderId": order.ID, "totalCents": order.TotalCents},
	})
}

// auditInitiated records the payment.initiated event (spec step 6 of the
// create-intent flow) — the order itself is audited separately by
// auditOrderCreated right after orders.Create succeeds.
func (g *Gate) auditInitiated(ctx context.Context, userID int64, ip string, order domain.Order, result domain.AnomalyResult) {
	if g.audit == nil {
		return
	}
	resourceID := fmt.Sprintf("%d", order.ID)
	score := result.Score
	_, _ = g.audit.Append(ctx, domain.AuditLogEntry{
		EventType:  domain.EventPaymentInitiated,
		UserID:     &userID,
		Action:     "payment_initiate",
		Resource:   "payment_intent",
		ResourceID: &resourceID,
		Result:     domain.AuditResultSuccess,
		RiskScore:  &score,
		IPAddress:  ip,
		Metadata:   map[string]any{"orderId": order.ID, "totalCents": order.TotalCents, "fraudScore": result.Score},
	})
}

// handleOrderAnomaly reacts to the order-anomaly signal independently of the
// fraud gate: a suspicious-activity audit entry at suspiciousThreshold, an
// external alert at alertThreshold. Neither blocks the order.
func (g *Gate) handleOrderAnomaly(ctx context.Context, userID, orderID int64, result domain.AnomalyResult) {
	if result.Score < suspiciousThreshold {
		return
	}
	if g.audit != nil {
		resourceID := fmt.Sprintf("%d", orderID)
		score := result.Score
		_, _ = g.audit.Append(ctx, domain.AuditLogEntry{
			EventType:  domain.EventSecuritySuspiciousActivity,
			UserID:     &userID,
			Action:     "order_create",
			Resource:   "order",
			ResourceID: &resourceID,
			Result:     domain.AuditResultPartial,
			RiskScore:  &score,
			Metadata:   map[string]any{"orderId": orderID, "reasons": result.Reasons},
		})
	}
	if result.Score >= alertThreshold {
		g.alert(ctx, AnomalyAlert{UserID: userID, OrderID: orderID, Score: result.Score, Reasons: result.Reasons})
	}
}
