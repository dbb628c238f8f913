package api

import "net/http"

// search handles GET /public/search?q&limit
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusOK, []SearchResult{})
		return
	}
	limit, _ := queryInt(q, "limit")
	results, err := s.store.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("api: search failed", errField(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}
