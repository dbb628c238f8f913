package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Server wires the public read-only projection and the job-submission
// surface behind a single chi router, the way cmd/main.go
// wires its GraphQL handler: middleware stack, CORS, a mounted handler
// set, and a /health endpoint, nothing more.
type Server struct {
	store     Store
	queue     JobQueue
	logger    *zap.Logger
	validator *validator.Validate
	router    chi.Router
}

// Config configures allowed CORS origins. Everything else about the
// router follows a fixed pattern.
type Config struct {
	AllowedOrigins []string
}

// errField is a small helper so handler bodies read `errField(err)`
// instead of repeating `zap.Error(err)` at every call site.
func errField(err error) zap.Field { return zap.Error(err) }

// NewServer builds the router and wires every public and job-submission
// route. The returned Server implements http.Handler.
func NewServer(store Store, jobQueue JobQueue, logger *zap.Logger, cfg Config) *Server {
	s := &Server{
		store:     store,
		queue:     jobQueue,
		logger:    logger,
		validator: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(zapRequestLogger(logger))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/public", func(pr chi.Router) {
		pr.Get("/articles", s.listArticles)
		pr.Get("/articles/{id}", s.getArticle)
		pr.Get("/artists", s.listArtists)
		pr.Get("/artists/{id}", s.getArtist)
		pr.Get("/artists/{id}/articles", s.listArtistArticles)
		pr.Get("/groups", s.listGroups)
		pr.Get("/groups/{id}", s.getGroup)
		pr.Get("/groups/{id}/articles", s.listGroupArticles)
		pr.Get("/search", s.search)
	})

	r.Route("/jobs", func(jr chi.Router) {
		jr.Post("/", s.createJob)
		jr.Get("/", s.listRecentJobs)
		jr.Get("/stats", s.queueStatsHandler)
		jr.Get("/{id}", s.getJob)
		jr.Post("/{id}/cancel", s.cancelJob)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// zapRequestLogger generalizes chi's middleware.Logger to
// the structured logger every other component already writes through,
// rather than mixing the standard library's request logging with zap
// elsewhere in the same process.
func zapRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("api: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
