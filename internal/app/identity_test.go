package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
)

func TestResolveOrCreateDefaults(t *testing.T) {
	ctx := context.Background()
	service := app.NewIdentityService(memory.NewUserStore(), memory.NewRosterStore())

	user, err := service.ResolveOrCreate(ctx, domain.Principal{ID: "p1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Role() != domain.RoleNone || user.IsBound() {
		t.Fatalf("expected unassigned user, got %+v", user)
	}
	if user.Name != app.PlaceholderName || !strings.Contains(user.Picture, "seed=p1") {
		t.Fatalf("expected placeholder name and avatar, got %q %q", user.Name, user.Picture)
	}
}

func TestResolveOrCreateConcurrentFirstSight(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUserStore()
	service := app.NewIdentityService(users, memory.NewRosterStore())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.ResolveOrCreate(ctx, domain.Principal{ID: "p1", Name: "Mei"}); err != nil {
				t.Errorf("resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := service.SetRole(ctx, "p1", domain.RoleStudent); err != nil {
		t.Fatalf("set role: %v", err)
	}
	again, err := service.ResolveOrCreate(ctx, domain.Principal{ID: "p1", Name: "Mei"})
	if err != nil || again.Role() != domain.RoleStudent {
		t.Fatalf("expected existing student to be returned, got %+v %v", again, err)
	}
}

func TestSetRoleTransitions(t *testing.T) {
	ctx := context.Background()
	service := app.NewIdentityService(memory.NewUserStore(), memory.NewRosterStore())
	_, _ = service.ResolveOrCreate(ctx, domain.Principal{ID: "t1", Name: "Ms. Lin"})

	user, err := service.SetRole(ctx, "t1", domain.RoleTeacher)
	if err != nil || !user.IsTeacher() || !user.IsBound() {
		t.Fatalf("expected bound teacher, got %+v %v", user, err)
	}
	if _, err := service.SetRole(ctx, "t1", domain.RoleTeacher); err != nil {
		t.Fatalf("same role should be a no-op, got %v", err)
	}
	if _, err := service.SetRole(ctx, "t1", domain.RoleStudent); !errors.Is(err, domain.ErrRoleAlreadySet) {
		t.Fatalf("expected role already set, got %v", err)
	}
}

func TestBindStudent(t *testing.T) {
	ctx := context.Background()
	roster := memory.NewRosterStore()
	_ = roster.AddStudent(ctx, domain.RegisteredStudent{ID: "r1", ClassName: "7A", SeatNumber: "12", Name: "Chen Mei"})
	service := app.NewIdentityService(memory.NewUserStore(), roster)

	for _, id := range []string{"s1", "s2", "t1"} {
		_, _ = service.ResolveOrCreate(ctx, domain.Principal{ID: id, Name: "someone"})
	}
	_, _ = service.SetRole(ctx, "s1", domain.RoleStudent)
	_, _ = service.SetRole(ctx, "s2", domain.RoleStudent)
	_, _ = service.SetRole(ctx, "t1", domain.RoleTeacher)

	var idErr *domain.IdentityError
	if _, err := service.BindStudent(ctx, "t1", "7A", "12", ""); !errors.As(err, &idErr) || !errors.Is(err, domain.ErrNotStudent) {
		t.Fatalf("expected not student, got %v", err)
	}
	if _, err := service.BindStudent(ctx, "s1", "", "12", ""); !errors.Is(err, domain.ErrIncompleteBinding) {
		t.Fatalf("expected incomplete binding, got %v", err)
	}
	if _, err := service.BindStudent(ctx, "s1", "7A", "99", ""); !errors.As(err, &idErr) || !errors.Is(err, domain.ErrStudentNotFound) {
		t.Fatalf("expected identity error for seat not in roster, got %v", err)
	}
	if u, _ := service.ResolveOrCreate(ctx, domain.Principal{ID: "s1"}); u.IsBound() {
		t.Fatalf("failed binding must leave the user unbound")
	}
	if _, err := service.BindStudent(ctx, "s1", "7A", "12", "Wang Wei"); !errors.Is(err, domain.ErrNameMismatch) {
		t.Fatalf("expected name mismatch, got %v", err)
	}

	user, err := service.BindStudent(ctx, "s1", " 7A ", "12", "chen mei")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	b, ok := user.Binding()
	if !ok || b.ClassName != "7A" || b.SeatNumber != "12" || user.Name != "Chen Mei" {
		t.Fatalf("expected bound to roster entry, got %+v", user)
	}
	if _, err := service.BindStudent(ctx, "s1", "7A", "12", ""); !errors.Is(err, domain.ErrAlreadyBound) {
		t.Fatalf("expected already bound, got %v", err)
	}
	if _, err := service.BindStudent(ctx, "s2", "7A", "12", ""); !errors.Is(err, domain.ErrSeatTaken) {
		t.Fatalf("expected seat taken, got %v", err)
	}
}

func TestConcurrentBindsLeaveOneSeat(t *testing.T) {
	ctx := context.Background()
	roster := memory.NewRosterStore()
	_ = roster.AddStudent(ctx, domain.RegisteredStudent{ID: "r1", ClassName: "7A", SeatNumber: "12", Name: "Chen Mei"})
	_ = roster.AddStudent(ctx, domain.RegisteredStudent{ID: "r2", ClassName: "7A", SeatNumber: "13", Name: "Wang Wei"})
	users := &barrierUsers{UserStore: memory.NewUserStore()}
	service := app.NewIdentityService(users, roster)
	for _, id := range []string{"s1", "s2"} {
		_, _ = service.ResolveOrCreate(ctx, domain.Principal{ID: id})
		_, _ = service.SetRole(ctx, id, domain.RoleStudent)
	}

	// both binds read s1 as unbound before either saves
	users.arm(2)
	seats := []string{"12", "13"}
	errs := make([]error, len(seats))
	var wg sync.WaitGroup
	for i, seat := range seats {
		wg.Add(1)
		go func(i int, seat string) {
			defer wg.Done()
			_, errs[i] = service.BindStudent(ctx, "s1", "7A", seat, "")
		}(i, seat)
	}
	wg.Wait()

	won := -1
	for i, err := range errs {
		if err == nil {
			if won >= 0 {
				t.Fatalf("both binds succeeded")
			}
			won = i
			continue
		}
		var idErr *domain.IdentityError
		if !errors.As(err, &idErr) || !errors.Is(err, domain.ErrAlreadyBound) {
			t.Fatalf("expected already bound for the losing bind, got %v", err)
		}
	}
	if won < 0 {
		t.Fatalf("no bind succeeded: %v", errs)
	}

	u, _ := service.ResolveOrCreate(ctx, domain.Principal{ID: "s1"})
	if b, ok := u.Binding(); !ok || b.SeatNumber != seats[won] {
		t.Fatalf("expected s1 bound to seat %s, got %+v", seats[won], u)
	}
	lost := seats[1-won]
	if _, err := service.BindStudent(ctx, "s2", "7A", lost, ""); err != nil {
		t.Fatalf("seat %s should be free again: %v", lost, err)
	}
}

// barrierUsers holds the next n GetUser calls until all n have arrived.
type barrierUsers struct {
	*memory.UserStore
	mu      sync.Mutex
	waiting int
	gate    chan struct{}
}

func (u *barrierUsers) arm(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.waiting = n
	u.gate = make(chan struct{})
}

func (u *barrierUsers) GetUser(ctx context.Context, userID string) (domain.User, error) {
	user, err := u.UserStore.GetUser(ctx, userID)
	u.mu.Lock()
	if u.waiting == 0 {
		u.mu.Unlock()
		return user, err
	}
	gate := u.gate
	u.waiting--
	if u.waiting == 0 {
		close(gate)
	}
	u.mu.Unlock()
	<-gate
	return user, err
}

func TestRosterServiceRequiresTeacher(t *testing.T) {
	ctx := context.Background()
	service := app.NewRosterService(memory.NewRosterStore())
	entry := domain.RegisteredStudent{ClassName: "7A", SeatNumber: "3", Name: "Lee"}

	if _, err := service.AddStudent(ctx, boundStudent(), entry); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	added, err := service.AddStudent(ctx, teacher("teacher-1"), entry)
	if err != nil || added.ID == "" {
		t.Fatalf("add: %+v %v", added, err)
	}
	if _, err := service.AddStudent(ctx, teacher("teacher-1"), entry); !errors.Is(err, domain.ErrDuplicateRosterEntry) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	var vErr *domain.ValidationError
	if _, err := service.AddStudent(ctx, teacher("teacher-1"), domain.RegisteredStudent{ClassName: "7A", SeatNumber: "x", Name: "Lee"}); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := service.RemoveStudent(ctx, teacher("teacher-1"), added.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestImportStudentsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	service := app.NewRosterService(memory.NewRosterStore())
	res, err := service.ImportStudents(ctx, []domain.RegisteredStudent{
		{ClassName: "7A", SeatNumber: "10", Name: "A"},
		{ClassName: "7A", SeatNumber: "2", Name: "B"},
		{ClassName: "7A", SeatNumber: "2", Name: "B again"},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Added != 2 || res.Duplicates != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	list, _ := service.ListStudents(ctx)
	if len(list) != 2 || list[0].SeatNumber != "2" {
		t.Fatalf("expected numeric seat order, got %+v", list)
	}
}
