package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// listArtists handles GET /public/artists?q&limit&offset&global_priority
func (s *Server) listArtists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var globalPriority *int
	if gp, ok := queryInt(q, "global_priority"); ok {
		globalPriority = &gp
	}
	artists, err := s.store.ListArtists(r.Context(), q.Get("q"), globalPriority, pageFromQuery(q))
	if err != nil {
		s.logger.Error("api: listing artists failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to list artists")
		return
	}
	writeJSON(w, http.StatusOK, artists)
}

// getArtist handles GET /public/artists/{id}
func (s *Server) getArtist(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artist id")
		return
	}
	artist, err := s.store.GetArtist(r.Context(), id)
	if err != nil {
		s.logger.Error("api: getting artist failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to get artist")
		return
	}
	if artist == nil {
		writeError(w, http.StatusNotFound, "artist not found")
		return
	}
	writeJSON(w, http.StatusOK, artist)
}

// listArtistArticles handles GET /public/artists/{id}/articles
func (s *Server) listArtistArticles(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artist id")
		return
	}
	articles, err := s.store.ListArtistArticles(r.Context(), id, pageFromQuery(r.URL.Query()))
	if err != nil {
		s.logger.Error("api: listing artist articles failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to list artist articles")
		return
	}
	writeJSON(w, http.StatusOK, articles)
}
