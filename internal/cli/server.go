package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/config"
	"classroom-quiz-service/internal/infra/gemini"
	"classroom-quiz-service/internal/infra/memory"
	"classroom-quiz-service/internal/infra/postgres"
	rediscache "classroom-quiz-service/internal/infra/redis"
	"classroom-quiz-service/internal/logger"
	transport "classroom-quiz-service/internal/transport/http"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends holds the repositories chosen from config.
type backends struct {
	quizzes  app.QuizRepository
	attempts app.AttemptRepository
	users    app.UserRepository
	roster   app.RosterRepository
	closers  []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends uses Postgres when configured and in-memory stores otherwise.
// With Redis, quizzes are cached there and attempts fan out over pub/sub;
// without it, quizzes are cached in process.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		b.quizzes = postgres.NewQuizStore(pool)
		b.attempts = postgres.NewAttemptStore(pool)
		b.users = postgres.NewUserStore(pool)
		b.roster = postgres.NewRosterStore(pool)
	} else {
		log.Warn().Msg("postgres url not configured; using in-memory storage")
		b.quizzes = memory.NewQuizStore()
		b.attempts = memory.NewAttemptStore()
		b.users = memory.NewUserStore()
		b.roster = memory.NewRosterStore()
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			b.Close()
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.quizzes = rediscache.NewQuizCache(client, b.quizzes, quizTTL)
		b.attempts = rediscache.NewAttemptFeed(client, b.attempts)
	} else if cfg.Postgres.URL != "" {
		b.quizzes = memory.NewQuizCache(b.quizzes, quizTTL)
	}
	return b, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or AUTH_JWT_SECRET) is required")
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	generator, err := gemini.NewGenerator(ctx, gemini.Config{
		APIKey:       cfg.Gemini.APIKey,
		QuizModel:    cfg.Gemini.QuizModel,
		ExplainModel: cfg.Gemini.ExplainModel,
		Language:     cfg.Gemini.Language,
	})
	if err != nil {
		return err
	}
	defer generator.Close()

	resubscribeMax := config.TTLDuration(cfg.Results.ResubscribeMax, 10*time.Second)
	api := &transport.API{
		Identity: app.NewIdentityService(b.users, b.roster),
		Roster:   app.NewRosterService(b.roster),
		Authoring: app.NewAuthoringService(b.quizzes, generator,
			app.WithGenerateTimeout(config.TTLDuration(cfg.Gemini.Timeout, app.DefaultGenerateTimeout))),
		Attempts: app.NewAttemptService(b.quizzes, b.attempts,
			config.TTLDuration(cfg.Attempt.SubmitTimeout, app.DefaultSubmitTimeout)),
		Results: app.NewResultService(b.quizzes, b.attempts,
			app.WithResubscribeBackOff(func() backoff.BackOff {
				eb := backoff.NewExponentialBackOff()
				eb.InitialInterval = 250 * time.Millisecond
				eb.MaxInterval = resubscribeMax
				eb.MaxElapsedTime = 0
				return eb
			})),
	}
	auth := transport.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(api, auth, transport.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
