package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSendOnce_Dedupes(t *testing.T) {
	mailer := NewMemoryMailer()
	svc := NewService(mailer, NewMemoryDedupStore(), testLogger())
	ctx := context.Background()

	svc.SendOnce(ctx, "purchase_confirmed:txn_1", "purchase_confirmed", "buyer_1", nil)
	svc.SendOnce(ctx, "purchase_confirmed:txn_1", "purchase_confirmed", "buyer_1", nil)
	svc.SendOnce(ctx, "purchase_confirmed:txn_2", "purchase_confirmed", "buyer_1", nil)

	if got := mailer.CountTemplate("purchase_confirmed"); got != 2 {
		t.Fatalf("expected 2 sends (one per key), got %d", got)
	}
}

func TestSend_SwallowsMailerFailure(t *testing.T) {
	mailer := NewMemoryMailer()
	mailer.FailNext(true)
	svc := NewService(mailer, NewMemoryDedupStore(), testLogger())

	// Must not panic or propagate; failure is logged only.
	svc.Send(context.Background(), "payment_failed", "buyer_1", nil)

	if len(mailer.Sends()) != 0 {
		t.Fatal("failed send should not be recorded")
	}
}

func TestSendOnce_FailedSendConsumesKey(t *testing.T) {
	// A key claimed before a failed send stays claimed: the triggering
	// event will be retried by the caller and must not double-send once
	// the provider recovers mid-way. Best-effort means we accept the
	// lost email over a duplicate.
	mailer := NewMemoryMailer()
	svc := NewService(mailer, NewMemoryDedupStore(), testLogger())
	ctx := context.Background()

	mailer.FailNext(true)
	svc.SendOnce(ctx, "k", "tmpl", "r", nil)
	mailer.FailNext(false)
	svc.SendOnce(ctx, "k", "tmpl", "r", nil)

	if got := mailer.CountTemplate("tmpl"); got != 0 {
		t.Fatalf("expected 0 sends after key was consumed by failed attempt, got %d", got)
	}
}

func TestHTTPMailer_SignsPayload(t *testing.T) {
	const secret = "mail-secret"
	var gotSig string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Codesalvage-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	mailer := NewHTTPMailer(srv.URL, secret)
	err := mailer.Send(context.Background(), "escrow_released", "seller_1", map[string]any{"amount": 7000})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature mismatch: got %s want %s", gotSig, want)
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload["template"] != "escrow_released" || payload["recipient"] != "seller_1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestHTTPMailer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	mailer := NewHTTPMailer(srv.URL, "")
	if err := mailer.Send(context.Background(), "t", "r", nil); err == nil {
		t.Fatal("expected error on non-2xx provider response")
	}
}

func TestMemoryDedupStore_Once(t *testing.T) {
	store := NewMemoryDedupStore()
	ctx := context.Background()

	first, err := store.Once(ctx, "a")
	if err != nil || !first {
		t.Fatalf("first claim should succeed, got %v %v", first, err)
	}
	second, err := store.Once(ctx, "a")
	if err != nil || second {
		t.Fatalf("second claim should report already seen, got %v %v", second, err)
	}
}
