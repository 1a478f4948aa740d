package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gmsol/internal/core"
	"gmsol/internal/observability"
	"gmsol/internal/projection"
	"gmsol/internal/state"
)

type subscription struct {
	ch     chan projection.EnvelopeView
	market *state.Token
}

// StreamHub fans engine events out to websocket subscribers. Slow clients
// drop messages instead of stalling the broadcast.
type StreamHub struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewStreamHub(metrics *observability.Metrics, log zerolog.Logger) *StreamHub {
	return &StreamHub{
		subs:    make(map[*subscription]struct{}),
		metrics: metrics,
		log:     log,
	}
}

func (h *StreamHub) subscribe(buffer int, market *state.Token) *subscription {
	sub := &subscription{ch: make(chan projection.EnvelopeView, buffer), market: market}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.StreamClients.Inc()
	}
	return sub
}

func (h *StreamHub) unsubscribe(sub *subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	close(sub.ch)
	if h.metrics != nil {
		h.metrics.StreamClients.Dec()
	}
}

// Broadcast pushes one engine output to every matching subscriber.
func (h *StreamHub) Broadcast(out core.EngineOutput) {
	env := out.Envelope
	view := projection.EnvelopeView{
		Sequence:    env.Sequence,
		ActionRef:   env.ActionRef,
		EventType:   env.EventType.String(),
		MarketToken: env.MarketToken,
		Timestamp:   env.Timestamp,
		Payload:     out.Event,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.market != nil && (env.MarketToken == nil || *env.MarketToken != *sub.market) {
			continue
		}
		select {
		case sub.ch <- view:
			if h.metrics != nil {
				h.metrics.StreamMessages.Inc()
			}
		default:
			if h.metrics != nil {
				h.metrics.StreamDrops.Inc()
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleEventStream upgrades to a websocket and streams events. An
// optional ?market=<hex token> query filters by market.
func (h *StreamHub) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	var market *state.Token
	if q := r.URL.Query().Get("market"); q != "" {
		token, err := state.TokenFromHex(q)
		if err != nil {
			http.Error(w, "bad market token", http.StatusBadRequest)
			return
		}
		market = &token
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.subscribe(64, market)
	defer h.unsubscribe(sub)

	for view := range sub.ch {
		if err := conn.WriteJSON(view); err != nil {
			return
		}
	}
}
