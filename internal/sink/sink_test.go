package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"low":      LevelLow,
		"medium":   LevelMedium,
		"high":     LevelHigh,
		"critical": LevelCritical,
		"safe":     LevelSafe,
		"garbage":  LevelSafe,
	}
	for tag, want := range cases {
		if got := ParseLevel(tag); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tag, got, want)
		}
	}
}

func TestConsoleSink_MinLevel(t *testing.T) {
	s := NewConsoleSink(LevelMedium)
	if s.MinLevel() != LevelMedium {
		t.Errorf("expected MinLevel() = LevelMedium, got %v", s.MinLevel())
	}
	// Handle must not panic even on a sparse dictionary.
	s.Handle(context.Background(), Signal{Level: LevelHigh, Dict: map[string]any{"tx_hash": "0xabc"}})
}

func TestStructuredSink_WritesJSON(t *testing.T) {
	var captured []byte
	s := NewStructuredSink(LevelSafe, func(b []byte) { captured = b })

	dict := map[string]any{"tx_hash": "0xabc", "risk_level": "high"}
	s.Handle(context.Background(), Signal{Level: LevelHigh, Dict: dict})

	var out map[string]any
	if err := json.Unmarshal(captured, &out); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v", err)
	}
	if out["tx_hash"] != "0xabc" {
		t.Errorf("expected tx_hash 0xabc in the written payload, got %v", out["tx_hash"])
	}
}

type bufWriter struct {
	data []byte
}

func (w *bufWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func TestStructuredWriterSink_WritesToIOWriter(t *testing.T) {
	buf := &bufWriter{}
	s := NewStructuredWriterSink(LevelSafe, buf)
	s.Handle(context.Background(), Signal{Dict: map[string]any{"a": 1}})

	if len(buf.data) == 0 {
		t.Fatal("expected bytes written to the underlying io.Writer")
	}
}

func TestWebhookSink_PostsPayload(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSink(LevelHigh, srv.URL)
	s.Handle(context.Background(), Signal{Level: LevelHigh, Dict: map[string]any{"tx_hash": "0xdead"}})

	select {
	case body := <-received:
		if body["tx_hash"] != "0xdead" {
			t.Errorf("expected tx_hash 0xdead delivered to the webhook, got %v", body["tx_hash"])
		}
	default:
		t.Fatal("expected the webhook handler to have received a POST")
	}
}

func TestWebhookSink_DeliveryFailureDoesNotPanic(t *testing.T) {
	s := NewWebhookSink(LevelHigh, "http://127.0.0.1:0/unreachable")
	s.Handle(context.Background(), Signal{Dict: map[string]any{"tx_hash": "0xabc"}})
}
