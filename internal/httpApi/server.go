package httpApi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"mcap_candle_stream/internal/model"
	"mcap_candle_stream/internal/webSocket"
)

// CandleSource is what the HTTP layer needs from the aggregator registry.
type CandleSource interface {
	Chart(token string, timeframe time.Duration) []model.ChartCandle
	Timeframes() []time.Duration
}

type server struct {
	reg CandleSource
	hub *webSocket.Hub
	mux *http.ServeMux
}

func NewServer(reg CandleSource, hub *webSocket.Hub) http.Handler {
	s := &server{
		reg: reg,
		hub: hub,
		mux: http.NewServeMux(),
	}
	s.routes()
	return s.mux
}

func (s *server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/candles", s.handleCandles)
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "time": time.Now().UTC()})
}

func (s *server) handleCandles(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}
	tf, err := parseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		http.Error(w, "bad timeframe", http.StatusBadRequest)
		return
	}

	candles := s.reg.Chart(token, tf)
	if candles == nil {
		candles = []model.ChartCandle{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(candles)
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}
	tf, err := parseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil || !s.configured(tf) {
		http.Error(w, "bad timeframe", http.StatusBadRequest)
		return
	}

	conn, err := s.hub.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// initial snapshot
	_ = conn.WriteJSON(s.reg.Chart(token, tf))

	s.hub.Join(conn,
		model.CandleChannel(token, tf.Milliseconds()),
		model.SupplyChannel(token),
	)
}

// configured reports whether a timeframe is part of the aggregated set;
// joining an unaggregated stream would never receive a message.
func (s *server) configured(tf time.Duration) bool {
	for _, known := range s.reg.Timeframes() {
		if known == tf {
			return true
		}
	}
	return false
}

// parseTimeframe accepts either a Go duration ("300s", "1h") or a bare
// number of seconds. Empty defaults to one minute.
func parseTimeframe(raw string) (time.Duration, error) {
	if raw == "" {
		return time.Minute, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}
