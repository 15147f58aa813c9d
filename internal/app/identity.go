package app

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"classroom-quiz-service/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	// PlaceholderName is shown for principals that carry no display name.
	PlaceholderName = "Unregistered student"
	avatarBaseURL   = "https://api.dicebear.com/7.x/avataaars/svg?seed="
)

// IdentityService maps authenticated principals to users and manages role and
// roster binding.
type IdentityService struct {
	users  UserRepository
	roster RosterRepository
}

func NewIdentityService(users UserRepository, roster RosterRepository) *IdentityService {
	return &IdentityService{users: users, roster: roster}
}

// ResolveOrCreate returns the user for a principal, creating an Unassigned one
// on first sight. Concurrent first sightings end with a single stored user.
func (s *IdentityService) ResolveOrCreate(ctx context.Context, p domain.Principal) (domain.User, error) {
	if strings.TrimSpace(p.ID) == "" {
		return domain.User{}, domain.Invalid("id", "required")
	}
	user, err := s.users.GetUser(ctx, p.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}

	fresh := domain.User{
		ID:      p.ID,
		Name:    strings.TrimSpace(p.Name),
		Email:   p.Email,
		Picture: p.Picture,
		Profile: domain.Unassigned{},
	}
	if fresh.Name == "" {
		fresh.Name = PlaceholderName
	}
	if fresh.Picture == "" {
		fresh.Picture = avatarBaseURL + url.QueryEscape(p.ID)
	}
	stored, err := s.users.CreateUser(ctx, fresh)
	if err != nil {
		return domain.User{}, err
	}
	log.Info().Str("userId", stored.ID).Msg("user created")
	return stored, nil
}

// SetRole moves an Unassigned user to a role. Choosing the same role again is a no-op.
func (s *IdentityService) SetRole(ctx context.Context, userID string, role domain.Role) (domain.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	current := user.Role()
	if current == role {
		return user, nil
	}
	if current != domain.RoleNone {
		return domain.User{}, domain.NewIdentityError(domain.ErrRoleAlreadySet)
	}

	switch role {
	case domain.RoleTeacher:
		user.Profile = domain.Teacher{}
	case domain.RoleStudent:
		user.Profile = domain.UnboundStudent{}
	default:
		return domain.User{}, domain.Invalid("role", "oneof")
	}
	if err := s.users.SaveUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	log.Info().Str("userId", user.ID).Str("role", string(role)).Msg("role chosen")
	return user, nil
}

// BindStudent ties an unbound student to a roster seat. The user takes the
// roster name; a supplied name must match it ignoring case.
func (s *IdentityService) BindStudent(ctx context.Context, userID, className, seatNumber, name string) (domain.User, error) {
	className = strings.TrimSpace(className)
	seatNumber = strings.TrimSpace(seatNumber)
	name = strings.TrimSpace(name)

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	switch user.Profile.(type) {
	case domain.UnboundStudent:
	case domain.BoundStudent:
		return domain.User{}, domain.NewIdentityError(domain.ErrAlreadyBound)
	default:
		return domain.User{}, domain.NewIdentityError(domain.ErrNotStudent)
	}
	if className == "" || seatNumber == "" {
		return domain.User{}, domain.NewIdentityError(domain.ErrIncompleteBinding)
	}

	entry, err := s.roster.FindStudent(ctx, className, seatNumber)
	if errors.Is(err, domain.ErrStudentNotFound) {
		return domain.User{}, domain.NewIdentityError(err)
	}
	if err != nil {
		return domain.User{}, err
	}
	if name != "" && !strings.EqualFold(name, entry.Name) {
		return domain.User{}, domain.NewIdentityError(domain.ErrNameMismatch)
	}
	if err := s.roster.ClaimSeat(ctx, entry.ClassName, entry.SeatNumber, user.ID); err != nil {
		if errors.Is(err, domain.ErrSeatTaken) {
			return domain.User{}, domain.NewIdentityError(err)
		}
		return domain.User{}, err
	}

	user.Name = entry.Name
	user.Profile = domain.BoundStudent{ClassName: entry.ClassName, SeatNumber: entry.SeatNumber}
	if err := s.users.BindUser(ctx, user); err != nil {
		// a concurrent bind to another seat won; give this seat back
		if rErr := s.roster.ReleaseSeat(ctx, entry.ClassName, entry.SeatNumber, user.ID); rErr != nil {
			log.Warn().Err(rErr).Str("userId", user.ID).Msg("release seat claim failed")
		}
		if errors.Is(err, domain.ErrAlreadyBound) {
			return domain.User{}, domain.NewIdentityError(err)
		}
		return domain.User{}, err
	}
	log.Info().
		Str("userId", user.ID).
		Str("class", entry.ClassName).
		Str("seat", entry.SeatNumber).
		Msg("student bound to roster")
	return user, nil
}
