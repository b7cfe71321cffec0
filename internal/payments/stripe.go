package payments

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/joseairosa/codesalvage/internal/fault"
)

// StripeProcessor implements Processor against the Stripe API.
type StripeProcessor struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProcessor creates a Stripe-backed processor.
func NewStripeProcessor(secretKey, webhookSecret string) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProcessor{api: api, webhookSecret: webhookSecret}
}

func (s *StripeProcessor) CreateAuthorization(ctx context.Context, amountCents int64, metadata map[string]string) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fault.Wrap(fault.KindExternal, "create payment authorization", err)
	}
	return &Authorization{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (s *StripeProcessor) CancelAuthorization(ctx context.Context, paymentIntentID string) error {
	_, err := s.api.PaymentIntents.Cancel(paymentIntentID, &stripe.PaymentIntentCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return fault.Wrap(fault.KindExternal, "cancel payment authorization", err)
	}
	return nil
}

func (s *StripeProcessor) Refund(ctx context.Context, paymentIntentID string) error {
	_, err := s.api.Refunds.New(&stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(paymentIntentID),
	})
	if err != nil {
		return fault.Wrap(fault.KindExternal, "request refund", err)
	}
	return nil
}

func (s *StripeProcessor) VerifySignature(payload []byte, sigHeader string) (*Event, error) {
	ev, err := webhook.ConstructEvent(payload, sigHeader, s.webhookSecret)
	if err != nil {
		return nil, fault.Wrap(fault.KindSignature, "webhook signature verification failed", err)
	}
	return reduceEvent(ev), nil
}

// reduceEvent extracts the processor reference from the event object. The
// PaymentIntent id lives in a different field depending on the object type.
func reduceEvent(ev stripe.Event) *Event {
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	obj := ev.Data.Object

	switch {
	case strings.HasPrefix(out.Type, "payment_intent."):
		out.PaymentIntentID, _ = obj["id"].(string)
	case strings.HasPrefix(out.Type, "charge.dispute."):
		out.PaymentIntentID, _ = obj["payment_intent"].(string)
		out.DisputeStatus, _ = obj["status"].(string)
	case strings.HasPrefix(out.Type, "charge."):
		out.PaymentIntentID, _ = obj["payment_intent"].(string)
	}
	return out
}

// Compile-time assertion that StripeProcessor implements Processor.
var _ Processor = (*StripeProcessor)(nil)
