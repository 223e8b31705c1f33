// Package transport implements cortexd's HTTP/SSE inbound surface
// (SPEC_FULL.md §0): a synchronous POST for the digest pipeline's single
// entry point (spec.md §4.4) and a server-sent-events stream for
// asynchronous follow-up delivery (the tool worker's re-entrant response,
// C20; the drift engine's COMMUNICATE/NURTURE/SUGGEST output, C24).
// Grounded on the teacher's internal/agentd router.go/handlers_chat.go: a
// plain net/http.ServeMux with one handler per route and the same
// `w.Header().Set("Content-Type", "text/event-stream")` + http.Flusher
// streaming idiom, generalized from the teacher's one-shot chat stream to
// a long-lived per-user event feed.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cortex/internal/digest"
	"cortex/internal/observability"
)

// eventBufferSize bounds how many undelivered events a disconnected
// subscriber's channel holds before new ones are dropped, so a stalled
// SSE client cannot block publishers.
const eventBufferSize = 16

// Broker fans out asynchronous assistant output to every connected SSE
// client for a user. cortex is single-user (spec.md's framing), but
// keying by user keeps the seam honest for a future multi-user deploy.
type Broker struct {
	mu   sync.RWMutex
	subs map[string][]chan string
}

// NewBroker builds an empty event broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]chan string)}
}

// Subscribe registers a new listener for userID's events. The returned
// cancel func must be called when the client disconnects.
func (b *Broker) Subscribe(userID string) (<-chan string, func()) {
	ch := make(chan string, eventBufferSize)
	b.mu.Lock()
	b.subs[userID] = append(b.subs[userID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[userID]
		for i, c := range subs {
			if c == ch {
				b.subs[userID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel
}

// publish writes content to every subscriber of userID, dropping it for
// any subscriber whose channel is full rather than blocking.
func (b *Broker) publish(userID, content string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[userID] {
		select {
		case ch <- content:
		default:
		}
	}
}

// ToolResultDelivery adapts Broker to toolworker.Delivery.
type ToolResultDelivery struct {
	Broker *Broker
	UserID string
}

// Deliver satisfies toolworker.Delivery.
func (d ToolResultDelivery) Deliver(ctx context.Context, req digest.Request, resp digest.Response) error {
	d.Broker.publish(d.UserID, resp.Text)
	return nil
}

// DriftDelivery adapts Broker to drift.Delivery.
type DriftDelivery struct {
	Broker *Broker
}

// Deliver satisfies drift.Delivery.
func (d DriftDelivery) Deliver(ctx context.Context, userID, content string) error {
	d.Broker.publish(userID, content)
	return nil
}

// Server wires the digest pipeline to HTTP.
type Server struct {
	Pipeline *digest.Pipeline
	Broker   *Broker
	UserID   string
}

// messageRequest is the inbound JSON body for POST /message.
type messageRequest struct {
	ThreadID string `json:"thread_id"`
	Channel  string `json:"channel"`
	Platform string `json:"platform"`
	Message  string `json:"message"`
}

// Routes registers every handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/message", s.handleMessage)
	mux.HandleFunc("/events", s.handleEvents)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleMessage runs one inbound message through the digest pipeline's
// Phases A-D synchronously, returning whatever immediate response (a
// terminal mode's text or a fast-path acknowledgement) Phase C produced.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := s.Pipeline.Handle(r.Context(), digest.Request{
		ThreadID: req.ThreadID,
		Channel:  req.Channel,
		Platform: req.Platform,
		Message:  req.Message,
	})
	if err != nil {
		observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("transport: pipeline handle failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleEvents streams every asynchronous event published for the single
// configured user until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Broker.Subscribe(s.UserID)
	defer cancel()

	ctx := r.Context()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case content, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", jsonString(content))
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func jsonString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
