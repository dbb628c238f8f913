package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// listArticles handles GET /public/articles?limit&offset&artist_id&group_id&language&q
func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	artistID, _ := queryInt64(q, "artist_id")
	groupID, _ := queryInt64(q, "group_id")

	filter := ArticleFilter{
		ArtistID: artistID,
		GroupID:  groupID,
		Language: q.Get("language"),
		Query:    q.Get("q"),
	}
	articles, err := s.store.ListArticles(r.Context(), filter, pageFromQuery(q))
	if err != nil {
		s.logger.Error("api: listing articles failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	writeJSON(w, http.StatusOK, articles)
}

// getArticle handles GET /public/articles/{id}
func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid article id")
		return
	}
	article, err := s.store.GetArticle(r.Context(), id)
	if err != nil {
		s.logger.Error("api: getting article failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to get article")
		return
	}
	if article == nil {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}
	writeJSON(w, http.StatusOK, article)
}
