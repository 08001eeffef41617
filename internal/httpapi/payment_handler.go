package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/shieldcart-auth/internal/apierror"
	"github.com/smallbiznis/shieldcart-auth/internal/audit"
	"github.com/smallbiznis/shieldcart-auth/internal/config"
	"github.com/smallbiznis/shieldcart-auth/internal/domain"
	"github.com/smallbiznis/shieldcart-auth/internal/mailer"
	"github.com/smallbiznis/shieldcart-auth/internal/payment"
	"github.com/smallbiznis/shieldcart-auth/internal/repository"
)

// PaymentHandler adapts payment.Gate and the webhook verifier onto gin
// routes.
type PaymentHandler struct {
	gate     *payment.Gate
	payments repository.PaymentRepository
	orders   repository.OrderRepository
	webhooks repository.WebhookEventRepository
	users    repository.UserRepository
	auditor  *audit.Writer
	mailer   mailer.Mailer
	cfg      config.Config
	logger   *zap.Logger
}

// NewPaymentHandler builds a PaymentHandler over its dependencies.
func NewPaymentHandler(
	gate *payment.Gate,
	payments repository.PaymentRepository,
	orders repository.OrderRepository,
	webhooks repository.WebhookEventRepository,
	users repository.UserRepository,
	auditor *audit.Writer,
	mailSender mailer.Mailer,
	cfg config.Config,
	logger *zap.Logger,
) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{
		gate: gate, payments: payments, orders: orders, webhooks: webhooks, users: users,
		auditor: auditor, mailer: mailSender, cfg: cfg, logger: logger,
	}
}

type createIntentItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createIntentRequest struct {
	Items []createIntentItem `json:"items"`
}

// CreateIntent handles POST /api/v1/payments/create-intent. The body is gated by
// BodyGuard("amount","currency","price","total","discount") at the route
// level, so a client attempt to dictate its own price never reaches here.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}

	var req createIntentRequest
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}

	items := make([]payment.RequestedItem, 0, len(req.Items))
	for _, item := range req.Items {
		if !ValidObjectID(item.ProductID) {
			respondError(c, apierror.New(apierror.KindInvalidRequest, "Invalid product id."))
			return
		}
		items = append(items, payment.RequestedItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	intent, err := h.gate.CreateIntent(c.Request.Context(), userID, c.ClientIP(), items)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{
		"paymentIntentId": intent.ID,
		"orderId":         intent.OrderID,
		"amountCents":     intent.AmountCents,
		"currency":        intent.Currency,
		"clientSecret":    intent.ClientSecret,
	})
}

type providerWebhookEvent struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	ProviderRef string `json:"providerRef"`
}

// Webhook handles POST /api/v1/payments/webhook. It verifies the provider's
// HMAC signature over the raw body before branching on event type, and
// records every event id so replays are a no-op.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondErrorStatus(c, http.StatusRequestEntityTooLarge, "Webhook body too large.")
		return
	}

	signature := c.GetHeader("X-Provider-Signature")
	if signature == "" || !payment.VerifySignature(h.cfg.PaymentWebhookSecret, raw, signature) {
		respondError(c, apierror.New(apierror.KindProvider, "Invalid webhook signature."))
		return
	}

	var event providerWebhookEvent
	if err := json.Unmarshal(raw, &event); err != nil || event.ID == "" {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Malformed webhook payload."))
		return
	}

	ctx := c.Request.Context()
	alreadyProcessed, err := h.webhooks.MarkProcessed(ctx, domain.WebhookEvent{
		ID: event.ID, Provider: "default", EventType: event.Type, Signature: signature,
	})
	if err != nil {
		respondError(c, apierror.Wrap(apierror.KindInternal, "Could not process webhook.", err))
		return
	}
	if alreadyProcessed {
		respondMessage(c, http.StatusOK, "Already processed.")
		return
	}

	intent, err := h.payments.GetByProviderRef(ctx, event.ProviderRef)
	if err != nil {
		h.logger.Warn("webhook for unknown payment intent", zap.String("providerRef", event.ProviderRef))
		respondMessage(c, http.StatusOK, "Acknowledged.")
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		h.handleSucceeded(ctx, intent)
	case "payment_intent.payment_failed":
		h.handleFailed(ctx, intent)
	default:
		h.logger.Info("unhandled webhook event type", zap.String("type", event.Type))
	}

	respondMessage(c, http.StatusOK, "Acknowledged.")
}

func (h *PaymentHandler) handleSucceeded(ctx context.Context, intent domain.PaymentIntent) {
	if err := h.payments.UpdateStatus(ctx, intent.ID, domain.PaymentIntentStatusSucceeded, ""); err != nil {
		h.logger.Error("update payment intent status", zap.Error(err))
	}
	if err := h.orders.UpdateStatus(ctx, intent.OrderID, domain.OrderStatusPaid); err != nil {
		h.logger.Error("update order status", zap.Error(err))
	}
	userID := intent.UserID
	if h.auditor != nil {
		resourceID := strconv.FormatInt(intent.ID, 10)
		_, _ = h.auditor.Append(ctx, domain.AuditLogEntry{
			EventType:  domain.EventPaymentCompleted,
			UserID:     &userID,
			Action:     "payment_complete",
			Resource:   "payment_intent",
			ResourceID: &resourceID,
			Result:     domain.AuditResultSuccess,
			Metadata:   map[string]any{"orderId": intent.OrderID, "paymentIntentId": intent.ID},
		})
	}
	order, err := h.orders.GetByID(ctx, intent.OrderID)
	if err == nil {
		if user, uerr := h.users.GetByID(ctx, order.UserID); uerr == nil {
			h.mailer.SendOrderConfirmation(ctx, user.Email, order.ID)
		}
	}
}

func (h *PaymentHandler) handleFailed(ctx context.Context, intent domain.PaymentIntent) {
	if err := h.payments.UpdateStatus(ctx, intent.ID, domain.PaymentIntentStatusFailed, ""); err != nil {
		h.logger.Error("update payment intent status", zap.Error(err))
	}
	if err := h.orders.UpdateStatus(ctx, intent.OrderID, domain.OrderStatusCancelled); err != nil {
		h.logger.Error("update order status", zap.Error(err))
	}
	userID := intent.UserID
	if h.auditor != nil {
		resourceID := strconv.FormatInt(intent.ID, 10)
		_, _ = h.auditor.Append(ctx, domain.AuditLogEntry{
			EventType:  domain.EventPaymentFailed,
			UserID:     &userID,
			Action:     "payment_fail",
			Resource:   "payment_intent",
			ResourceID: &resourceID,
			Result:     domain.AuditResultFailure,
			Metadata:   map[string]any{"orderId": intent.OrderID, "paymentIntentId": intent.ID},
		})
	}
}
