// Package webhook reconciles processor events against the transaction
// state machine.
//
// The processor delivers events at-least-once and out of order. Every
// handled event resolves its transaction by processor reference and
// applies a compare-and-set transition, so replays and stale events
// degrade to no-ops. A failed signature check rejects the payload before
// any processing; everything else is acked with 200 so the processor
// stops redelivering, including events for transactions we do not know.
package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/joseairosa/codesalvage/internal/httpx"
	"github.com/joseairosa/codesalvage/internal/metrics"
	"github.com/joseairosa/codesalvage/internal/payments"
	"github.com/joseairosa/codesalvage/internal/retry"
	"github.com/joseairosa/codesalvage/internal/transaction"
)

// maxPayloadBytes caps webhook bodies; Stripe events are a few KB.
const maxPayloadBytes = 256 * 1024

// eventHandler applies one event type. The bool reports whether a state
// transition actually happened.
type eventHandler func(ctx context.Context, ev *payments.Event) (bool, error)

// Handler verifies, dispatches and acknowledges processor webhooks.
type Handler struct {
	processor payments.Processor
	dispatch  map[string]eventHandler
	attempts  int
	logger    *slog.Logger
}

// NewHandler creates a webhook handler wired to the transaction service.
// attempts bounds the retries around transient store failures.
func NewHandler(processor payments.Processor, txns *transaction.Service, attempts int, logger *slog.Logger) *Handler {
	h := &Handler{
		processor: processor,
		attempts:  attempts,
		logger:    logger,
	}
	h.dispatch = map[string]eventHandler{
		"payment_intent.succeeded": func(ctx context.Context, ev *payments.Event) (bool, error) {
			return txns.ConfirmPayment(ctx, ev.PaymentIntentID)
		},
		"payment_intent.payment_failed": func(ctx context.Context, ev *payments.Event) (bool, error) {
			return txns.FailPayment(ctx, ev.PaymentIntentID)
		},
		"charge.refunded": func(ctx context.Context, ev *payments.Event) (bool, error) {
			return txns.MarkRefunded(ctx, ev.PaymentIntentID)
		},
		"charge.dispute.created": func(ctx context.Context, ev *payments.Event) (bool, error) {
			return txns.OpenDispute(ctx, ev.PaymentIntentID)
		},
		"charge.dispute.closed": func(ctx context.Context, ev *payments.Event) (bool, error) {
			return txns.CloseDispute(ctx, ev.PaymentIntentID, ev.DisputeStatus == "won")
		},
	}
	return h
}

// RegisterRoutes sets up the processor webhook endpoint. No session auth:
// authenticity comes from the signature header.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.HandleWebhook)
}

// HandleWebhook handles POST /v1/webhooks/stripe
func (h *Handler) HandleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadBytes)
	payload, err := c.GetRawData()
	if err != nil {
		httpx.Error(c, fault.New(fault.KindValidation, "unreadable payload"))
		return
	}

	ev, err := h.processor.VerifySignature(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "signature_failed").Inc()
		httpx.Error(c, err)
		return
	}

	result, err := h.Process(c.Request.Context(), ev)
	metrics.WebhookEventsTotal.WithLabelValues(ev.Type, result).Inc()
	if err != nil {
		// Non-permanent failure: let the processor redeliver.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_failed",
			"message": "Event could not be processed, retry later.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Process dispatches a verified event. The returned string labels the
// outcome for metrics; the error is non-nil only for failures worth a
// processor redelivery.
func (h *Handler) Process(ctx context.Context, ev *payments.Event) (string, error) {
	handle, ok := h.dispatch[ev.Type]
	if !ok {
		h.logger.Debug("ignoring webhook event", "eventId", ev.ID, "type", ev.Type)
		return "ignored", nil
	}
	if ev.PaymentIntentID == "" {
		h.logger.Warn("webhook event without payment reference", "eventId", ev.ID, "type", ev.Type)
		return "ignored", nil
	}

	var changed bool
	err := retry.Do(ctx, h.attempts, 100*time.Millisecond, func() error {
		var err error
		changed, err = handle(ctx, ev)
		if err == nil {
			return nil
		}
		// Events about transactions we never created, or states a user
		// already resolved, will not improve with retries.
		switch fault.KindOf(err) {
		case fault.KindNotFound, fault.KindValidation, fault.KindPermission:
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			h.logger.Warn("webhook event for unknown transaction",
				"eventId", ev.ID, "type", ev.Type, "paymentIntentId", ev.PaymentIntentID)
			return "unknown_transaction", nil
		}
		if fault.IsKind(err, fault.KindValidation) || fault.IsKind(err, fault.KindPermission) {
			h.logger.Warn("webhook event rejected by state machine",
				"eventId", ev.ID, "type", ev.Type, "error", err)
			return "rejected", nil
		}
		h.logger.Error("webhook event processing failed",
			"eventId", ev.ID, "type", ev.Type, "error", err)
		return "error", err
	}

	if !changed {
		return "noop", nil
	}
	h.logger.Info("webhook event applied",
		"eventId", ev.ID, "type", ev.Type, "paymentIntentId", ev.PaymentIntentID)
	return "applied", nil
}
