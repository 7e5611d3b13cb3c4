package web

import (
	"bytes"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/forgepipeline/core/prompt"
)

// handleRenderArchitectReview renders a request's latest ArchitectReview
// solution document as HTML, for the admin dashboard's review panel.
func (s *Server) handleRenderArchitectReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	review, ok, err := s.db.LatestArchitectReview(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	req, err := s.db.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	markdown := prompt.InstructionDocument(req, review, "")
	s.renderMarkdown(w, markdown)
}

// handleRenderInstructions renders the Markdown instruction document built
// for the coding agent from the request's latest approved ArchitectReview.
func (s *Server) handleRenderInstructions(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	review, ok, err := s.db.LatestApprovedArchitectReview(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	req, err := s.db.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	markdown := prompt.InstructionDocument(req, review, "")
	s.renderMarkdown(w, markdown)
}

func (s *Server) renderMarkdown(w http.ResponseWriter, markdown string) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
