package memory

import (
	"context"
	"sync"

	"classroom-quiz-service/internal/domain"
)

// UserStore is an in-memory app.UserRepository.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]domain.User)}
}

func (s *UserStore) GetUser(_ context.Context, userID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *UserStore) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[user.ID]; ok {
		return existing, nil
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *UserStore) SaveUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return domain.ErrUserNotFound
	}
	s.users[user.ID] = user
	return nil
}

func (s *UserStore) BindUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[user.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if _, unbound := stored.Profile.(domain.UnboundStudent); !unbound {
		return domain.ErrAlreadyBound
	}
	s.users[user.ID] = user
	return nil
}

// RosterStore is an in-memory app.RosterRepository.
type RosterStore struct {
	mu       sync.RWMutex
	students map[string]domain.RegisteredStudent
	seats    map[seatKey]string
	claims   map[seatKey]string
}

type seatKey struct {
	class string
	seat  string
}

func NewRosterStore() *RosterStore {
	return &RosterStore{
		students: make(map[string]domain.RegisteredStudent),
		seats:    make(map[seatKey]string),
		claims:   make(map[seatKey]string),
	}
}

func (s *RosterStore) AddStudent(_ context.Context, student domain.RegisteredStudent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seatKey{student.ClassName, student.SeatNumber}
	if _, ok := s.seats[key]; ok {
		return domain.ErrDuplicateRosterEntry
	}
	if _, ok := s.students[student.ID]; ok {
		return domain.ErrDuplicateRosterEntry
	}
	s.students[student.ID] = student
	s.seats[key] = student.ID
	return nil
}

func (s *RosterStore) RemoveStudent(_ context.Context, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[studentID]
	if !ok {
		return domain.ErrStudentNotFound
	}
	key := seatKey{st.ClassName, st.SeatNumber}
	delete(s.seats, key)
	delete(s.claims, key)
	delete(s.students, studentID)
	return nil
}

func (s *RosterStore) ListStudents(_ context.Context) ([]domain.RegisteredStudent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RegisteredStudent, 0, len(s.students))
	for _, st := range s.students {
		out = append(out, st)
	}
	domain.SortRoster(out)
	return out, nil
}

func (s *RosterStore) FindStudent(_ context.Context, className, seatNumber string) (domain.RegisteredStudent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.seats[seatKey{className, seatNumber}]
	if !ok {
		return domain.RegisteredStudent{}, domain.ErrStudentNotFound
	}
	return s.students[id], nil
}

func (s *RosterStore) ClaimSeat(_ context.Context, className, seatNumber, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seatKey{className, seatNumber}
	if _, ok := s.seats[key]; !ok {
		return domain.ErrStudentNotFound
	}
	if holder, ok := s.claims[key]; ok && holder != userID {
		return domain.ErrSeatTaken
	}
	s.claims[key] = userID
	return nil
}

func (s *RosterStore) ReleaseSeat(_ context.Context, className, seatNumber, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seatKey{className, seatNumber}
	if s.claims[key] == userID {
		delete(s.claims, key)
	}
	return nil
}
