package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"classroom-quiz-service/internal/config"
	"classroom-quiz-service/internal/infra/memory"
)

func TestLoadRosterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	raw := `
students:
  - class: 7A
    seat: "12"
    name: Chen Mei
  - class: 7B
    seat: 3
    name: Lee
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	students, err := loadRosterFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(students) != 2 || students[0].ClassName != "7A" || students[1].SeatNumber != "3" {
		t.Fatalf("unexpected students %+v", students)
	}
}

func TestOpenBackendsInMemory(t *testing.T) {
	b, err := openBackends(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	if _, ok := b.quizzes.(*memory.QuizStore); !ok {
		t.Fatalf("expected in-memory quiz store, got %T", b.quizzes)
	}
	if _, ok := b.attempts.(*memory.AttemptStore); !ok {
		t.Fatalf("expected in-memory attempt store, got %T", b.attempts)
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"start", "migrate", "roster"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected %s command, got %v %v", name, cmd, err)
		}
	}
	if cmd, _, err := root.Find([]string{"roster", "import"}); err != nil || cmd.Name() != "import" {
		t.Fatalf("expected roster import, got %v", err)
	}
}
