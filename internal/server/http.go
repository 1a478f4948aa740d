package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gmsol/internal/observability"
	"gmsol/internal/query"
	"gmsol/internal/state"
)

// HTTPServer serves the JSON query API plus health, metrics and the
// websocket event stream.
type HTTPServer struct {
	server  *http.Server
	qs      *query.Service
	hub     *StreamHub
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHTTPServer(addr string, qs *query.Service, hub *StreamHub, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		qs:      qs,
		hub:     hub,
		health:  health,
		metrics: metrics,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/status", s.instrument("status", s.handleStatus))
	mux.HandleFunc("/v1/markets", s.instrument("markets", s.handleMarkets))
	mux.HandleFunc("/v1/markets/", s.instrument("market", s.handleMarket))
	mux.HandleFunc("/v1/orders", s.instrument("orders", s.handleOrders))
	mux.HandleFunc("/v1/orders/", s.instrument("order", s.handleOrder))
	mux.HandleFunc("/v1/positions", s.instrument("positions", s.handlePositions))
	mux.HandleFunc("/v1/positions/", s.instrument("position", s.handlePosition))
	mux.HandleFunc("/v1/events", s.instrument("events", s.handleEvents))
	mux.HandleFunc("/v1/events/log", s.instrument("event_log", s.handleEventLog))
	mux.HandleFunc("/v1/integrity", s.instrument("integrity", s.handleIntegrity))

	if hub != nil {
		mux.HandleFunc("/ws/events", hub.HandleEventStream)
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.qs.GetStatus(r.Context())
	if err != nil {
		s.writeError(w, "status", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"markets": s.qs.ListMarkets(r.Context()),
	})
}

func (s *HTTPServer) handleMarket(w http.ResponseWriter, r *http.Request) {
	tokenHex := strings.TrimPrefix(r.URL.Path, "/v1/markets/")
	token, err := state.TokenFromHex(tokenHex)
	if err != nil {
		s.writeError(w, "market", http.StatusBadRequest, fmt.Errorf("bad market token: %w", err))
		return
	}

	m, err := s.qs.GetMarket(r.Context(), token)
	if err != nil {
		s.writeQueryError(w, "market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *HTTPServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	var market *state.Token
	if q := r.URL.Query().Get("market"); q != "" {
		token, err := state.TokenFromHex(q)
		if err != nil {
			s.writeError(w, "orders", http.StatusBadRequest, fmt.Errorf("bad market token: %w", err))
			return
		}
		market = &token
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": s.qs.ListOpenOrders(r.Context(), market),
	})
}

func (s *HTTPServer) handleOrder(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		s.writeError(w, "order", http.StatusBadRequest, fmt.Errorf("bad order id: %w", err))
		return
	}

	o, err := s.qs.GetOrder(r.Context(), id)
	if err != nil {
		s.writeQueryError(w, "order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *HTTPServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	var market *state.Token
	if q := r.URL.Query().Get("market"); q != "" {
		token, err := state.TokenFromHex(q)
		if err != nil {
			s.writeError(w, "positions", http.StatusBadRequest, fmt.Errorf("bad market token: %w", err))
			return
		}
		market = &token
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": s.qs.ListPositions(r.Context(), market),
	})
}

func (s *HTTPServer) handlePosition(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/v1/positions/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		s.writeError(w, "position", http.StatusBadRequest, fmt.Errorf("bad position id: %w", err))
		return
	}

	p, err := s.qs.GetPosition(r.Context(), id)
	if err != nil {
		s.writeQueryError(w, "position", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.qs.RecentEvents(r.Context(), limit),
	})
}

func (s *HTTPServer) handleEventLog(w http.ResponseWriter, r *http.Request) {
	from := int64(queryInt(r, "from", 0))
	limit := queryInt(r, "limit", 100)

	rows, err := s.qs.EventHistory(r.Context(), from, limit)
	if err != nil {
		s.writeError(w, "event_log", http.StatusInternalServerError, err)
		return
	}

	type eventJSON struct {
		Sequence    int64           `json:"sequence"`
		EventType   string          `json:"event_type"`
		ActionRef   string          `json:"action_ref"`
		MarketToken *string         `json:"market_token,omitempty"`
		Payload     json.RawMessage `json:"payload"`
		StateHash   string          `json:"state_hash"`
		PrevHash    string          `json:"prev_hash"`
		Timestamp   time.Time       `json:"timestamp"`
	}

	out := make([]eventJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, eventJSON{
			Sequence:    row.Sequence,
			EventType:   row.EventType,
			ActionRef:   row.ActionRef,
			MarketToken: row.MarketToken,
			Payload:     row.Payload,
			StateHash:   hex.EncodeToString(row.StateHash),
			PrevHash:    hex.EncodeToString(row.PrevHash),
			Timestamp:   row.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	from := int64(queryInt(r, "from", 0))
	max := int64(queryInt(r, "max", 0))

	report, err := s.qs.VerifyIntegrity(r.Context(), from, max)
	if err != nil {
		s.writeError(w, "integrity", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) writeQueryError(w http.ResponseWriter, endpoint string, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, query.ErrNotFound) {
		code = http.StatusNotFound
	}
	s.writeError(w, endpoint, code, err)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, code int, err error) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
