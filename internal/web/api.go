package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/forgepipeline/core/store"
)

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"failed to marshal response"}`)
	}
	return data
}

func pathInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[key], 10, 64)
}

type actorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
	Text   string `json:"text"`
	State  string `json:"state"`
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err.Error() != "EOF" {
		return err
	}
	return nil
}

func (s *Server) handleQueueTriage(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.Admin.QueueTriage(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("request:updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleQueueArchitect(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.Admin.QueueArchitect(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("request:updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleApproveArchitect(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body actorRequest
	_ = decodeBody(r, &body)
	if err := s.manager.Admin.ApproveArchitect(r.Context(), id, body.Actor, body.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("request:updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRejectArchitect(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body actorRequest
	_ = decodeBody(r, &body)
	if err := s.manager.Admin.RejectArchitect(r.Context(), id, body.Actor, body.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("request:updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFeedbackArchitect(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body actorRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.Admin.FeedbackArchitect(r.Context(), id, body.Actor, body.Text); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("request:updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleOverrideTriage(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body actorRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.Admin.OverrideTriage(r.Context(), id, body.Actor, store.RequestState(body.State), body.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("request:updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTriggerImplementation(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.Admin.TriggerImplementation(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("request:updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRejectImplementation(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body actorRequest
	_ = decodeBody(r, &body)
	if err := s.manager.Admin.RejectImplementation(r.Context(), id, body.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("request:updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeployStaged(w http.ResponseWriter, r *http.Request) {
	merged, err := s.manager.Admin.DeployStaged(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("deployment:updated")
	writeJSON(w, http.StatusOK, map[string]int{"merged": merged})
}

func (s *Server) handleRetryDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.Admin.RetryDeployment(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Broadcast("deployment:updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.manager.Admin.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// handleStats reports every worker's run status (SPEC_FULL.md §8 GET /stats).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Statuses())
}

func (s *Server) handleWorkerPause(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.manager.Pause(name) {
		writeError(w, http.StatusNotFound, errUnknownWorker(name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWorkerResume(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.manager.Resume(name) {
		writeError(w, http.StatusNotFound, errUnknownWorker(name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
