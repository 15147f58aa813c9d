package app

import (
	"context"
	"errors"
	"strings"

	"classroom-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RosterService lets teachers maintain the class roster students bind against.
type RosterService struct {
	roster RosterRepository
}

func NewRosterService(roster RosterRepository) *RosterService {
	return &RosterService{roster: roster}
}

// AddStudent registers a class seat. Only teachers may edit the roster.
func (s *RosterService) AddStudent(ctx context.Context, actor domain.User, student domain.RegisteredStudent) (domain.RegisteredStudent, error) {
	if !actor.IsTeacher() {
		return domain.RegisteredStudent{}, domain.ErrForbidden
	}
	return s.add(ctx, student)
}

// RemoveStudent deletes a roster entry.
func (s *RosterService) RemoveStudent(ctx context.Context, actor domain.User, studentID string) error {
	if !actor.IsTeacher() {
		return domain.ErrForbidden
	}
	return s.roster.RemoveStudent(ctx, studentID)
}

// ListStudents returns the roster ordered by class and seat.
func (s *RosterService) ListStudents(ctx context.Context) ([]domain.RegisteredStudent, error) {
	students, err := s.roster.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	domain.SortRoster(students)
	return students, nil
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Added      int
	Duplicates int
}

// ImportStudents adds entries in order, skipping class+seat pairs already
// present. It stops at the first invalid entry or storage failure.
func (s *RosterService) ImportStudents(ctx context.Context, students []domain.RegisteredStudent) (ImportResult, error) {
	var res ImportResult
	for _, st := range students {
		_, err := s.add(ctx, st)
		switch {
		case err == nil:
			res.Added++
		case errors.Is(err, domain.ErrDuplicateRosterEntry):
			res.Duplicates++
		default:
			return res, err
		}
	}
	log.Info().Int("added", res.Added).Int("duplicates", res.Duplicates).Msg("roster imported")
	return res, nil
}

func (s *RosterService) add(ctx context.Context, student domain.RegisteredStudent) (domain.RegisteredStudent, error) {
	student.ClassName = strings.TrimSpace(student.ClassName)
	student.SeatNumber = strings.TrimSpace(student.SeatNumber)
	student.Name = strings.TrimSpace(student.Name)
	if err := domain.ValidateStudent(student); err != nil {
		return domain.RegisteredStudent{}, err
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if err := s.roster.AddStudent(ctx, student); err != nil {
		return domain.RegisteredStudent{}, err
	}
	return student, nil
}
