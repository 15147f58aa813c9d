package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"classroom-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// UserStore keeps users as JSONB documents in their flat record form.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func (s *UserStore) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM users WHERE id=$1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return user, nil
}

// CreateUser inserts unless the id exists and returns whichever row is stored.
func (s *UserStore) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	data, err := json.Marshal(user)
	if err != nil {
		return domain.User{}, fmt.Errorf("marshal user: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, data) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		user.ID, data); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUser(ctx, user.ID)
}

func (s *UserStore) SaveUser(ctx context.Context, user domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE users SET data=$2 WHERE id=$1`, user.ID, data)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// BindUser only matches rows whose stored record is an unbound student.
func (s *UserStore) BindUser(ctx context.Context, user domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET data=$2
		WHERE id=$1 AND data->>'role'=$3 AND NOT COALESCE((data->>'isBound')::boolean, false)`,
		user.ID, data, string(domain.RoleStudent))
	if err != nil {
		return fmt.Errorf("bind user: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetUser(ctx, user.ID); err != nil {
		return err
	}
	return domain.ErrAlreadyBound
}

// RosterStore is the Postgres roster; seat claims live on the roster row.
type RosterStore struct {
	pool *pgxpool.Pool
}

func NewRosterStore(pool *pgxpool.Pool) *RosterStore {
	return &RosterStore{pool: pool}
}

func (s *RosterStore) AddStudent(ctx context.Context, student domain.RegisteredStudent) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO roster (id, class_name, seat_number, name) VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		student.ID, student.ClassName, student.SeatNumber, student.Name)
	if err != nil {
		return fmt.Errorf("insert roster entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateRosterEntry
	}
	return nil
}

func (s *RosterStore) RemoveStudent(ctx context.Context, studentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM roster WHERE id=$1`, studentID)
	if err != nil {
		return fmt.Errorf("delete roster entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStudentNotFound
	}
	return nil
}

func (s *RosterStore) ListStudents(ctx context.Context) ([]domain.RegisteredStudent, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, class_name, seat_number, name FROM roster`)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RegisteredStudent, 0)
	for rows.Next() {
		var st domain.RegisteredStudent
		if err := rows.Scan(&st.ID, &st.ClassName, &st.SeatNumber, &st.Name); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	domain.SortRoster(out)
	return out, nil
}

func (s *RosterStore) FindStudent(ctx context.Context, className, seatNumber string) (domain.RegisteredStudent, error) {
	var st domain.RegisteredStudent
	err := s.pool.QueryRow(ctx, `
		SELECT id, class_name, seat_number, name FROM roster WHERE class_name=$1 AND seat_number=$2`,
		className, seatNumber).Scan(&st.ID, &st.ClassName, &st.SeatNumber, &st.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RegisteredStudent{}, domain.ErrStudentNotFound
	}
	if err != nil {
		return domain.RegisteredStudent{}, fmt.Errorf("find roster entry: %w", err)
	}
	return st, nil
}

func (s *RosterStore) ClaimSeat(ctx context.Context, className, seatNumber, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE roster SET claimed_by=$3
		WHERE class_name=$1 AND seat_number=$2 AND (claimed_by IS NULL OR claimed_by=$3)`,
		className, seatNumber, userID)
	if err != nil {
		return fmt.Errorf("claim seat: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.FindStudent(ctx, className, seatNumber); err != nil {
		return err
	}
	return domain.ErrSeatTaken
}

func (s *RosterStore) ReleaseSeat(ctx context.Context, className, seatNumber, userID string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE roster SET claimed_by=NULL
		WHERE class_name=$1 AND seat_number=$2 AND claimed_by=$3`,
		className, seatNumber, userID); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}
