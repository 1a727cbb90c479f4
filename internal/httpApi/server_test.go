package httpApi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mcap_candle_stream/internal/backpressure"
	"mcap_candle_stream/internal/bus"
	"mcap_candle_stream/internal/model"
	"mcap_candle_stream/internal/webSocket"
)

// Stub registry for testing
type stubSource struct {
	charts map[string][]model.ChartCandle
}

func (s *stubSource) Chart(token string, _ time.Duration) []model.ChartCandle {
	return s.charts[token]
}

func (s *stubSource) Timeframes() []time.Duration {
	return []time.Duration{time.Minute}
}

func newTestServer(src CandleSource) http.Handler {
	hub := webSocket.NewHub(bus.NewLocal(), backpressure.NewController(backpressure.Config{}))
	return NewServer(src, hub)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&stubSource{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal("Failed to decode body:", err)
	}
	if body["ok"] != true {
		t.Error("Expected ok=true")
	}
}

func TestHandleCandlesRequiresToken(t *testing.T) {
	srv := newTestServer(&stubSource{})

	req := httptest.NewRequest(http.MethodGet, "/candles", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleCandlesRejectsBadTimeframe(t *testing.T) {
	srv := newTestServer(&stubSource{})

	req := httptest.NewRequest(http.MethodGet, "/candles?token=TOK&timeframe=soon", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleCandles(t *testing.T) {
	src := &stubSource{charts: map[string][]model.ChartCandle{
		"TOK": {
			{Time: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
			{Time: 120, Open: 1.5, High: 3, Low: 1.5, Close: 2.5, Volume: 50},
		},
	}}
	srv := newTestServer(src)

	req := httptest.NewRequest(http.MethodGet, "/candles?token=TOK&timeframe=60s", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var candles []model.ChartCandle
	if err := json.NewDecoder(rec.Body).Decode(&candles); err != nil {
		t.Fatal("Failed to decode body:", err)
	}
	if len(candles) != 2 {
		t.Fatalf("len = %d, want 2", len(candles))
	}
	if candles[1].Close != 2.5 {
		t.Errorf("Close = %v, want 2.5", candles[1].Close)
	}
}

func TestHandleCandlesUnknownTokenIsEmptyArray(t *testing.T) {
	srv := newTestServer(&stubSource{})

	req := httptest.NewRequest(http.MethodGet, "/candles?token=NOPE", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestHandleWSRequiresToken(t *testing.T) {
	srv := newTestServer(&stubSource{})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWSRejectsUnconfiguredTimeframe(t *testing.T) {
	srv := newTestServer(&stubSource{})

	req := httptest.NewRequest(http.MethodGet, "/ws?token=TOK&timeframe=7s", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestParseTimeframe(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Minute, false},
		{"60s", time.Minute, false},
		{"1h", time.Hour, false},
		{"300", 5 * time.Minute, false},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := parseTimeframe(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseTimeframe(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTimeframe(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseTimeframe(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
