package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNote() Notification {
	return Notification{
		SnapshotID:      "b3c1",
		Timestamp:       time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC),
		NativeCode:      "TRY",
		TotalNative:     decimal.NewFromFloat(1043200),
		TotalUSD:        decimal.NewFromFloat(32600),
		ChangeNativePct: decimal.NewFromFloat(3.75),
		ChangeUSDPct:    decimal.NewFromFloat(-1.2),
		Drift: []Drift{{
			Bucket:     "high risk crypto",
			Percentage: decimal.NewFromFloat(92.03),
			Target:     decimal.NewFromInt(30),
			Deviation:  decimal.NewFromFloat(62.03),
			Status:     "over",
		}},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "high risk crypto") {
		t.Fatalf("text should list drifted buckets: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNote())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("ok=false should fail with the description, got %v", err)
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("non-2xx status should fail")
	}
}

func TestRenderMessage(t *testing.T) {
	text := RenderMessage(sampleNote())
	for _, want := range []string{
		"Time: 2024-06-01 18:00 UTC",
		"Total: 1043200.00 TRY (+3.75%)",
		"Total: 32600.00 USD (-1.20%)",
		"- high risk crypto: 92.0% vs target 30% (over, +62.03pp)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
