package domain

import (
	"encoding/json"
	"fmt"
)

// Role is the discriminant of a user's profile.
type Role string

const (
	RoleNone    Role = "NONE"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
)

// ParseRole accepts the wire names of the roles.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleNone, RoleTeacher, RoleStudent:
		return Role(raw), nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Profile is the role-specific part of a user. Only the variants below implement it.
type Profile interface {
	Role() Role
	Bound() bool
	isProfile()
}

// Unassigned is the profile of a user who has not picked a role yet.
type Unassigned struct{}

// Teacher profiles are bound as soon as the role is chosen.
type Teacher struct{}

// UnboundStudent is a student who still has to identify against the roster.
type UnboundStudent struct{}

// BoundStudent is a student tied to a roster class and seat.
type BoundStudent struct {
	ClassName  string
	SeatNumber string
}

func (Unassigned) Role() Role     { return RoleNone }
func (Teacher) Role() Role        { return RoleTeacher }
func (UnboundStudent) Role() Role { return RoleStudent }
func (BoundStudent) Role() Role   { return RoleStudent }

func (Unassigned) Bound() bool     { return false }
func (Teacher) Bound() bool        { return true }
func (UnboundStudent) Bound() bool { return false }
func (BoundStudent) Bound() bool   { return true }

func (Unassigned) isProfile()     {}
func (Teacher) isProfile()        {}
func (UnboundStudent) isProfile() {}
func (BoundStudent) isProfile()   {}

// Principal is the authenticated identity handed over by the auth boundary.
type Principal struct {
	ID      string
	Name    string
	Email   string
	Picture string
}

// User is a principal together with its role profile.
type User struct {
	ID      string
	Name    string
	Email   string
	Picture string
	Profile Profile
}

// Role returns the profile's role, NONE for a zero user.
func (u User) Role() Role {
	if u.Profile == nil {
		return RoleNone
	}
	return u.Profile.Role()
}

// IsBound reports whether the user may use role features.
func (u User) IsBound() bool {
	return u.Profile != nil && u.Profile.Bound()
}

// IsTeacher is a shorthand used by authorization checks.
func (u User) IsTeacher() bool {
	_, ok := u.Profile.(Teacher)
	return ok
}

// Binding returns the class and seat of a bound student.
func (u User) Binding() (BoundStudent, bool) {
	b, ok := u.Profile.(BoundStudent)
	return b, ok
}

// userRecord is the flat wire and storage form of a user.
type userRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Picture    string `json:"picture"`
	Role       Role   `json:"role"`
	ClassName  string `json:"className,omitempty"`
	SeatNumber string `json:"seatNumber,omitempty"`
	IsBound    bool   `json:"isBound"`
}

func (u User) MarshalJSON() ([]byte, error) {
	rec := userRecord{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Picture: u.Picture,
		Role:    u.Role(),
		IsBound: u.IsBound(),
	}
	if b, ok := u.Binding(); ok {
		rec.ClassName = b.ClassName
		rec.SeatNumber = b.SeatNumber
	}
	return json.Marshal(rec)
}

func (u *User) UnmarshalJSON(data []byte) error {
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	profile, err := profileFromRecord(rec)
	if err != nil {
		return err
	}
	*u = User{ID: rec.ID, Name: rec.Name, Email: rec.Email, Picture: rec.Picture, Profile: profile}
	return nil
}

func profileFromRecord(rec userRecord) (Profile, error) {
	hasSeat := rec.ClassName != "" || rec.SeatNumber != ""
	switch rec.Role {
	case RoleNone, "":
		if rec.IsBound || hasSeat {
			return nil, fmt.Errorf("user %s: unassigned user cannot be bound", rec.ID)
		}
		return Unassigned{}, nil
	case RoleTeacher:
		if hasSeat {
			return nil, fmt.Errorf("user %s: teacher cannot carry seat binding", rec.ID)
		}
		return Teacher{}, nil
	case RoleStudent:
		if !rec.IsBound {
			if hasSeat {
				return nil, fmt.Errorf("user %s: unbound student cannot carry seat binding", rec.ID)
			}
			return UnboundStudent{}, nil
		}
		if rec.ClassName == "" || rec.SeatNumber == "" {
			return nil, fmt.Errorf("user %s: bound student is missing class or seat", rec.ID)
		}
		return BoundStudent{ClassName: rec.ClassName, SeatNumber: rec.SeatNumber}, nil
	}
	return nil, fmt.Errorf("user %s: unknown role %q", rec.ID, rec.Role)
}

// Taker is the identity an attempt session records.
type Taker struct {
	StudentID  string
	Name       string
	ClassName  string
	SeatNumber string
}

// TakerFromUser accepts only bound students.
func TakerFromUser(u User) (Taker, error) {
	switch p := u.Profile.(type) {
	case BoundStudent:
		return Taker{StudentID: u.ID, Name: u.Name, ClassName: p.ClassName, SeatNumber: p.SeatNumber}, nil
	case UnboundStudent:
		return Taker{}, NewIdentityError(ErrIncompleteBinding)
	default:
		return Taker{}, NewIdentityError(ErrNotStudent)
	}
}
