package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// traceEvent is one raw envelope as sent to trace subscribers
type traceEvent struct {
	Direction string    `json:"direction"`
	Endpoint  string    `json:"endpoint"`
	Envelope  string    `json:"envelope,omitempty"`
	Time      time.Time `json:"time"`
}

const subscriberBuffer = 64

// traceHub fans raw envelopes out to websocket subscribers. It implements
// onvif.Observer; slow subscribers lose events instead of stalling requests.
type traceHub struct {
	log zerolog.Logger

	mu          sync.Mutex
	subscribers map[chan traceEvent]struct{}
}

func newTraceHub(log zerolog.Logger) *traceHub {
	return &traceHub{
		log:         log,
		subscribers: make(map[chan traceEvent]struct{}),
	}
}

func (h *traceHub) RawRequest(endpoint string, envelope []byte) {
	h.publish(traceEvent{Direction: "request", Endpoint: endpoint, Envelope: string(envelope), Time: time.Now()})
}

func (h *traceHub) RawResponse(endpoint string, envelope []byte) {
	h.publish(traceEvent{Direction: "response", Endpoint: endpoint, Envelope: string(envelope), Time: time.Now()})
}

func (h *traceHub) Connected() {
	h.publish(traceEvent{Direction: "connected", Time: time.Now()})
}

func (h *traceHub) publish(ev traceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.log.Warn().Str("direction", ev.Direction).Msg("trace subscriber too slow, dropping event")
		}
	}
}

func (h *traceHub) subscribe() chan traceEvent {
	ch := make(chan traceEvent, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *traceHub) unsubscribe(ch chan traceEvent) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleTrace upgrades to a websocket and streams trace events until the
// peer goes away
func (s *server) handleTrace(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("trace upgrade failed")
		return
	}
	defer conn.Close()

	events := s.trace.subscribe()
	defer s.trace.unsubscribe(events)

	// the read side only detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug().Str("peer", c.ClientIP()).Msg("trace subscriber connected")

	for {
		select {
		case <-closed:
			s.log.Debug().Str("peer", c.ClientIP()).Msg("trace subscriber disconnected")
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
