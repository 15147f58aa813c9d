package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/postgres"
	pgmigrations "classroom-quiz-service/internal/infra/postgres/migrations"
	infraredis "classroom-quiz-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

type stack struct {
	identity  *app.IdentityService
	roster    *app.RosterService
	authoring *app.AuthoringService
	attempts  *app.AttemptService
	results   *app.ResultService
}

func newStack(pool *pgxpool.Pool, quizzes app.QuizRepository, attempts app.AttemptRepository) stack {
	users := postgres.NewUserStore(pool)
	roster := postgres.NewRosterStore(pool)
	return stack{
		identity:  app.NewIdentityService(users, roster),
		roster:    app.NewRosterService(roster),
		authoring: app.NewAuthoringService(quizzes, nil),
		attempts:  app.NewAttemptService(quizzes, attempts, 5*time.Second),
		results:   app.NewResultService(quizzes, attempts),
	}
}

func TestPublishAttemptAndWatchEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)
	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	quizzes := infraredis.NewQuizCache(redisClient, postgres.NewQuizStore(pool), 5*time.Minute)
	attempts := infraredis.NewAttemptFeed(redisClient, postgres.NewAttemptStore(pool))
	s := newStack(pool, quizzes, attempts)

	teacher := setupTeacher(t, ctx, s, "teacher-1")
	student := setupStudent(t, ctx, s, teacher, "student-1")

	quiz, err := s.authoring.Publish(ctx, teacher, sampleDraft())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	view, err := s.results.Watch(ctx, teacher, quiz.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer view.Close()

	session, err := s.attempts.Begin(ctx, student, strings.ToLower(quiz.Code))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, choice := range []int{1, 1, 2} {
		if err := session.SubmitAnswer(ctx, choice); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	attempt, ok := session.Attempt()
	if !ok || attempt.Score != 2 {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	again, err := session.Retry(ctx)
	if err != nil || again.ID != attempt.ID {
		t.Fatalf("retry after success must not write again: %+v %v", again, err)
	}

	waitForRows(t, view, 1, attempt.ID)

	own, err := s.results.ListOwnAttempts(ctx, student)
	if err != nil || len(own) != 1 {
		t.Fatalf("expected one stored attempt, got %d %v", len(own), err)
	}
}

func TestPostgresNotifyFeed(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	quizzes := postgres.NewQuizStore(pool)
	attempts := postgres.NewAttemptStore(pool)
	s := newStack(pool, quizzes, attempts)

	teacher := setupTeacher(t, ctx, s, "teacher-1")
	quiz, err := s.authoring.Publish(ctx, teacher, sampleDraft())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	view, err := s.results.Watch(ctx, teacher, "")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer view.Close()

	var lastID string
	for i, id := range []string{"student-1", "student-2"} {
		student := setupStudent(t, ctx, s, teacher, id)
		session, err := s.attempts.Begin(ctx, student, quiz.Code)
		if err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
		_ = session.Start()
		for j := 0; j < 3; j++ {
			if err := session.SubmitAnswer(ctx, i); err != nil {
				t.Fatalf("answer: %v", err)
			}
		}
		a, _ := session.Attempt()
		lastID = a.ID
	}
	waitForRows(t, view, 2, lastID)
}

func setupTeacher(t *testing.T, ctx context.Context, s stack, id string) domain.User {
	t.Helper()
	if _, err := s.identity.ResolveOrCreate(ctx, domain.Principal{ID: id, Name: "Ms. Lin"}); err != nil {
		t.Fatalf("resolve teacher: %v", err)
	}
	u, err := s.identity.SetRole(ctx, id, domain.RoleTeacher)
	if err != nil {
		t.Fatalf("teacher role: %v", err)
	}
	return u
}

func setupStudent(t *testing.T, ctx context.Context, s stack, teacher domain.User, id string) domain.User {
	t.Helper()
	entry, err := s.roster.AddStudent(ctx, teacher, domain.RegisteredStudent{ClassName: "7A", SeatNumber: id[len(id)-1:], Name: "Student " + id})
	if err != nil {
		t.Fatalf("add roster entry: %v", err)
	}
	if _, err := s.identity.ResolveOrCreate(ctx, domain.Principal{ID: id}); err != nil {
		t.Fatalf("resolve student: %v", err)
	}
	if _, err := s.identity.SetRole(ctx, id, domain.RoleStudent); err != nil {
		t.Fatalf("student role: %v", err)
	}
	u, err := s.identity.BindStudent(ctx, id, entry.ClassName, entry.SeatNumber, "")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return u
}

func waitForRows(t *testing.T, view *app.ResultView, n int, newestID string) {
	t.Helper()
	timeout := time.After(15 * time.Second)
	for {
		select {
		case snap := <-view.Updates():
			if !snap.Stale && len(snap.Rows) == n && snap.Rows[0].Attempt.ID == newestID {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %d rows, last snapshot %+v", n, view.Snapshot())
		}
	}
}

func sampleDraft() app.Draft {
	options := []string{"A", "B", "C", "D"}
	return app.Draft{
		Title: "Fractions",
		Questions: []domain.Question{
			{Text: "Half of 4?", Options: options, CorrectAnswerIndex: 1},
			{Text: "Half of 2?", Options: options, CorrectAnswerIndex: 0},
			{Text: "Half of 6?", Options: options, CorrectAnswerIndex: 2},
		},
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
