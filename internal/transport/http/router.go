package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// RouterConfig carries the HTTP-level settings of NewRouter.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter mounts the REST API under /api/v1 and the attempt and results
// sockets under /ws. Every route except /healthz requires a token.
func NewRouter(api *API, auth *Authenticator, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	requireUser := RequireUser(auth, api.Identity)

	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(middleware.Timeout(cfg.RequestTimeout), requireUser)

		ar.Get("/me", api.Me)
		ar.Post("/me/role", api.SetRole)
		ar.Post("/me/binding", api.Bind)
		ar.Get("/me/attempts", api.MyAttempts)

		ar.Get("/roster", api.ListRoster)
		ar.Post("/roster", api.AddStudent)
		ar.Delete("/roster/{id}", api.RemoveStudent)

		ar.Get("/quizzes", api.ListQuizzes)
		ar.Post("/quizzes", api.Publish)
		ar.Post("/quizzes/generate", api.Generate)
		ar.Post("/quizzes/explain", api.Explain)
		ar.Get("/quizzes/code/{code}", api.QuizByCode)
		ar.Put("/quizzes/{id}", api.UpdateQuiz)
		ar.Patch("/quizzes/{id}/active", api.SetActive)
		ar.Delete("/quizzes/{id}", api.DeleteQuiz)

		ar.Get("/attempts/{id}", api.GetAttempt)
	})

	// sockets outlive the request timeout
	r.Route("/ws", func(wr chi.Router) {
		wr.Use(requireUser)
		wr.Method(http.MethodGet, "/attempt", NewAttemptSocket(api.Attempts))
		wr.Method(http.MethodGet, "/results", NewResultsSocket(api.Results))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("requestId", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}
