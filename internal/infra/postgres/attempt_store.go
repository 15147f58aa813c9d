package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"classroom-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
)

// NotifyChannel is the LISTEN/NOTIFY channel fed by the attempts insert trigger.
const NotifyChannel = "attempts_appended"

const feedBuffer = 16

// AttemptStore is the Postgres attempt log. Live feeds use LISTEN on a
// dedicated pooled connection.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// AppendAttempt inserts once per submission id and returns the stored id.
func (s *AttemptStore) AppendAttempt(ctx context.Context, attempt domain.Attempt) (string, error) {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	data, err := json.Marshal(attempt)
	if err != nil {
		return "", fmt.Errorf("marshal attempt: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO attempts (id, submission_id, quiz_id, quiz_creator_id, student_id, submitted_at, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (submission_id) DO NOTHING
			RETURNING id
		)
		SELECT id FROM ins
		UNION ALL
		SELECT id FROM attempts WHERE submission_id=$2
		LIMIT 1`,
		attempt.ID, attempt.SubmissionID, attempt.QuizID, attempt.QuizCreatorID,
		attempt.StudentID, attempt.SubmittedAt, data).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// a concurrent insert of the same submission committed after our snapshot
		err = s.pool.QueryRow(ctx, `SELECT id FROM attempts WHERE submission_id=$1`, attempt.SubmissionID).Scan(&id)
	}
	if err != nil {
		return "", &domain.WriteError{Op: "append attempt", Err: err}
	}
	return id, nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM attempts WHERE id=$1`, attemptID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load attempt: %w", err)
	}
	var attempt domain.Attempt
	if err := json.Unmarshal(raw, &attempt); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal attempt: %w", err)
	}
	return attempt, nil
}

func (s *AttemptStore) ListAttempts(ctx context.Context, scope domain.AttemptScope) ([]domain.Attempt, error) {
	where, args := scopeClause(scope)
	rows, err := s.pool.Query(ctx, `SELECT data FROM attempts`+where+` ORDER BY submitted_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Attempt, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		var attempt domain.Attempt
		if err := json.Unmarshal(raw, &attempt); err != nil {
			return nil, fmt.Errorf("unmarshal attempt: %w", err)
		}
		out = append(out, attempt)
	}
	return out, rows.Err()
}

// SubscribeAttempts listens before taking the initial snapshot, so nothing
// committed in between is missed; duplicates are resolved by id downstream.
func (s *AttemptStore) SubscribeAttempts(ctx context.Context, scope domain.AttemptScope) (<-chan domain.AttemptBatch, func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, &domain.SubscriptionError{Err: err}
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, nil, &domain.SubscriptionError{Err: err}
	}
	initial, err := s.ListAttempts(ctx, scope)
	if err != nil {
		s.releaseListener(conn)
		return nil, nil, &domain.SubscriptionError{Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan domain.AttemptBatch, feedBuffer)
	ch <- domain.AttemptBatch{Attempts: initial, Resync: true}

	go func() {
		defer close(ch)
		defer s.releaseListener(conn)

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					fail(ctx, ch, err)
				}
				return
			}
			attempt, err := s.GetAttempt(ctx, n.Payload)
			if err != nil {
				if ctx.Err() == nil {
					fail(ctx, ch, err)
				}
				return
			}
			if !scope.Matches(attempt) {
				continue
			}
			select {
			case ch <- domain.AttemptBatch{Attempts: []domain.Attempt{attempt}}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, cancel, nil
}

func (s *AttemptStore) releaseListener(conn *pgxpool.Conn) {
	if _, err := conn.Exec(context.Background(), "UNLISTEN *"); err != nil {
		log.Debug().Err(err).Msg("unlisten failed, dropping connection")
		_ = conn.Conn().Close(context.Background())
	}
	conn.Release()
}

func fail(ctx context.Context, ch chan<- domain.AttemptBatch, err error) {
	select {
	case ch <- domain.AttemptBatch{Err: &domain.SubscriptionError{Err: err}}:
	case <-ctx.Done():
	}
}

func scopeClause(scope domain.AttemptScope) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	add("quiz_id", scope.QuizID)
	add("quiz_creator_id", scope.CreatorID)
	add("student_id", scope.StudentID)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
