package web

import (
	"fmt"
	"net/http"
)

// handleSSE streams pipeline events (request transitions, deployment
// updates) to connected admin clients.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	messageChan := make(chan string, 10)

	s.sseMu.Lock()
	s.sseClients[messageChan] = true
	s.sseMu.Unlock()

	defer func() {
		s.sseMu.Lock()
		delete(s.sseClients, messageChan)
		s.sseMu.Unlock()
		close(messageChan)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	s.logger.Debug("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case msg, ok := <-messageChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: {\"type\":\"%s\"}\n\n", msg, msg)
			flusher.Flush()
		}
	}
}

// Broadcast pushes event to every connected SSE client, dropping it for any
// client whose buffer is full rather than blocking.
func (s *Server) Broadcast(event string) {
	s.sseMu.RLock()
	defer s.sseMu.RUnlock()
	for ch := range s.sseClients {
		select {
		case ch <- event:
		default:
		}
	}
}

func errUnknownWorker(name string) error {
	return fmt.Errorf("web: unknown worker %q", name)
}
