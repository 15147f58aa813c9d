package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/config"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// rosterFile is the bulk import format:
//
//	students:
//	  - class: 7A
//	    seat: "12"
//	    name: Chen Mei
type rosterFile struct {
	Students []struct {
		Class string `yaml:"class"`
		Seat  string `yaml:"seat"`
		Name  string `yaml:"name"`
	} `yaml:"students"`
}

// NewRosterCmd groups roster maintenance commands.
func NewRosterCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage the class roster",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Add roster entries from a YAML file, skipping existing seats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return importRoster(cmd.Context(), cmd.OutOrStdout(), *configPath, args[0])
		},
	})
	return cmd
}

func loadRosterFile(path string) ([]domain.RegisteredStudent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	students := make([]domain.RegisteredStudent, 0, len(f.Students))
	for _, s := range f.Students {
		students = append(students, domain.RegisteredStudent{ClassName: s.Class, SeatNumber: s.Seat, Name: s.Name})
	}
	return students, nil
}

func importRoster(ctx context.Context, out io.Writer, configPath, path string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured; an in-memory roster would be discarded")
	}

	students, err := loadRosterFile(path)
	if err != nil {
		return err
	}
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	res, err := app.NewRosterService(b.roster).ImportStudents(ctx, students)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s: %d added, %d already present\n", path, res.Added, res.Duplicates)
	return err
}
