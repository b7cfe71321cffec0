// Package notify delivers buyer/seller notification emails through an
// external mail provider.
//
// Delivery is fire-and-forget: a failed send is logged and counted, never
// surfaced to the caller of the triggering operation. Callers that run on
// at-least-once paths (webhook replay, sweep re-runs) use SendOnce, which
// dedupes by a caller-chosen key so an email goes out at most once per
// entity even when the triggering event is redelivered.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joseairosa/codesalvage/internal/circuitbreaker"
	"github.com/joseairosa/codesalvage/internal/metrics"
)

// Mailer sends a templated message to a recipient.
type Mailer interface {
	Send(ctx context.Context, template, recipient string, data map[string]any) error
}

// DedupStore remembers which notification keys have already been claimed.
type DedupStore interface {
	// Once atomically claims key. It returns true the first time a key is
	// seen and false on every later call.
	Once(ctx context.Context, key string) (bool, error)
}

// Service wraps a Mailer with dedup and failure isolation.
type Service struct {
	mailer Mailer
	dedup  DedupStore
	logger *slog.Logger
}

// NewService creates a notification service.
func NewService(mailer Mailer, dedup DedupStore, logger *slog.Logger) *Service {
	return &Service{mailer: mailer, dedup: dedup, logger: logger}
}

// Send delivers a notification best-effort. Errors are logged, never returned.
func (s *Service) Send(ctx context.Context, template, recipient string, data map[string]any) {
	if err := s.mailer.Send(ctx, template, recipient, data); err != nil {
		metrics.MailDeliveriesTotal.WithLabelValues("error").Inc()
		s.logger.Warn("notification send failed",
			"template", template, "recipient", recipient, "error", err)
		return
	}
	metrics.MailDeliveriesTotal.WithLabelValues("ok").Inc()
}

// SendOnce delivers a notification at most once per key. Replayed webhook
// events and repeated sweep runs pass the same key and are skipped.
// Returns true only when this call claimed the key and attempted delivery.
func (s *Service) SendOnce(ctx context.Context, key, template, recipient string, data map[string]any) bool {
	first, err := s.dedup.Once(ctx, key)
	if err != nil {
		s.logger.Warn("notification dedup check failed", "key", key, "error", err)
		return false
	}
	if !first {
		return false
	}
	s.Send(ctx, template, recipient, data)
	return true
}

// HTTPMailer posts notifications to an HTTP mail provider, signing each
// request body with HMAC-SHA256 so the provider can authenticate us.
// A circuit breaker sheds sends while the provider is down so a slow
// provider cannot stall request handling for 10s per notification.
type HTTPMailer struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

const mailBreakerKey = "mail_provider"

// NewHTTPMailer creates a mailer backed by an HTTP provider endpoint.
func NewHTTPMailer(url, secret string) *HTTPMailer {
	return &HTTPMailer{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (m *HTTPMailer) Send(ctx context.Context, template, recipient string, data map[string]any) error {
	if !m.breaker.Allow(mailBreakerKey) {
		return fmt.Errorf("mail provider circuit open")
	}
	payload, err := json.Marshal(map[string]any{
		"template":  template,
		"recipient": recipient,
		"data":      data,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.secret != "" {
		req.Header.Set("X-Codesalvage-Signature", m.sign(payload))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.breaker.RecordFailure(mailBreakerKey)
		return fmt.Errorf("mail provider request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.breaker.RecordFailure(mailBreakerKey)
		return fmt.Errorf("mail provider returned status %d", resp.StatusCode)
	}
	m.breaker.RecordSuccess(mailBreakerKey)
	return nil
}

func (m *HTTPMailer) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(m.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// LogMailer logs notifications instead of delivering them. Used in
// development when no mail provider is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) Send(ctx context.Context, template, recipient string, data map[string]any) error {
	m.Logger.Info("notification (log only)",
		"template", template, "recipient", recipient)
	return nil
}

// MemoryMailer records sends for tests.
type MemoryMailer struct {
	mu    sync.Mutex
	sends []RecordedSend
	fail  bool
}

// RecordedSend is one captured Send call.
type RecordedSend struct {
	Template  string
	Recipient string
	Data      map[string]any
}

// NewMemoryMailer creates a recording mailer.
func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{}
}

// FailNext makes every subsequent Send return an error.
func (m *MemoryMailer) FailNext(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *MemoryMailer) Send(ctx context.Context, template, recipient string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("mailer unavailable")
	}
	m.sends = append(m.sends, RecordedSend{Template: template, Recipient: recipient, Data: data})
	return nil
}

// Sends returns a copy of all recorded sends.
func (m *MemoryMailer) Sends() []RecordedSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedSend, len(m.sends))
	copy(out, m.sends)
	return out
}

// CountTemplate returns how many sends used the given template.
func (m *MemoryMailer) CountTemplate(template string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sends {
		if s.Template == template {
			n++
		}
	}
	return n
}
