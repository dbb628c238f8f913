package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// listGroups handles GET /public/groups?q&limit&offset
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groups, err := s.store.ListGroups(r.Context(), q.Get("q"), pageFromQuery(q))
	if err != nil {
		s.logger.Error("api: listing groups failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// getGroup handles GET /public/groups/{id}
func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	group, err := s.store.GetGroup(r.Context(), id)
	if err != nil {
		s.logger.Error("api: getting group failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to get group")
		return
	}
	if group == nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// listGroupArticles handles GET /public/groups/{id}/articles
func (s *Server) listGroupArticles(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	articles, err := s.store.ListGroupArticles(r.Context(), id, pageFromQuery(r.URL.Query()))
	if err != nil {
		s.logger.Error("api: listing group articles failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to list group articles")
		return
	}
	writeJSON(w, http.StatusOK, articles)
}
