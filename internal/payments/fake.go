package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/joseairosa/codesalvage/internal/idgen"
)

// FakeProcessor is an in-memory Processor for tests and demo mode. It
// records every call and can be told to fail the next authorization or
// refund.
type FakeProcessor struct {
	mu            sync.Mutex
	authorized    []string
	cancelled     []string
	refunded      []string
	failAuthorize bool
	failRefund    bool
	nextEvent     *Event
}

// NewFakeProcessor creates a recording fake processor.
func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{}
}

// FailAuthorize makes subsequent CreateAuthorization calls fail.
func (f *FakeProcessor) FailAuthorize(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAuthorize = fail
}

// FailRefund makes subsequent Refund calls fail.
func (f *FakeProcessor) FailRefund(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRefund = fail
}

// SetNextEvent sets what VerifySignature returns for any valid payload.
func (f *FakeProcessor) SetNextEvent(ev *Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextEvent = ev
}

// Cancelled returns the payment intent ids that were voided.
func (f *FakeProcessor) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cancelled))
	copy(out, f.cancelled)
	return out
}

// Refunded returns the payment intent ids refunds were requested for.
func (f *FakeProcessor) Refunded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.refunded))
	copy(out, f.refunded)
	return out
}

func (f *FakeProcessor) CreateAuthorization(ctx context.Context, amountCents int64, metadata map[string]string) (*Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAuthorize {
		return nil, fault.New(fault.KindExternal, "processor unavailable")
	}
	id := "pi_" + idgen.Hex(12)
	f.authorized = append(f.authorized, id)
	return &Authorization{ID: id, ClientSecret: id + "_secret_" + idgen.Hex(8)}, nil
}

func (f *FakeProcessor) CancelAuthorization(ctx context.Context, paymentIntentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, paymentIntentID)
	return nil
}

func (f *FakeProcessor) Refund(ctx context.Context, paymentIntentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefund {
		return fault.New(fault.KindExternal, "processor unavailable")
	}
	f.refunded = append(f.refunded, paymentIntentID)
	return nil
}

// VerifySignature accepts any payload whose signature header is exactly
// "valid" and returns the configured next event.
func (f *FakeProcessor) VerifySignature(payload []byte, sigHeader string) (*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sigHeader != "valid" {
		return nil, fault.New(fault.KindSignature, "webhook signature verification failed")
	}
	if f.nextEvent == nil {
		return nil, fmt.Errorf("fake processor: no event configured")
	}
	return f.nextEvent, nil
}

// Compile-time assertion that FakeProcessor implements Processor.
var _ Processor = (*FakeProcessor)(nil)
