package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/em1l4k/docflow/internal/repository"
	"github.com/em1l4k/docflow/pkg/models"
)

const sampleRoster = `identity,role,full_name,is_active
alice,admin,Alice Adams,1
mark,manager,Mark Mills,1
mona,manager,Mona Meyer,1
eve,employee,Eve Evans,1
`

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write a sample roster and insert demo documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			if _, err := os.Stat(cfg.Roster.Path); os.IsNotExist(err) {
				if err := os.MkdirAll(filepath.Dir(cfg.Roster.Path), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(cfg.Roster.Path, []byte(sampleRoster), 0o644); err != nil {
					return err
				}
				logger.Info("sample roster written", "path", cfg.Roster.Path)
			} else {
				logger.Info("roster already exists, leaving it alone", "path", cfg.Roster.Path)
			}

			pool, err := connectDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := repository.NewPostgres(pool)
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}

			existing, err := store.ListDocumentsByOwner(ctx, "eve", 1)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				logger.Info("demo documents already present, nothing to do")
				return nil
			}

			for i, title := range []string{"Vacation policy update", "Q3 budget", "Office relocation plan"} {
				doc := &models.Document{
					ID:      uuid.New().String(),
					Title:   title,
					Kind:    "report",
					Status:  models.DocumentStatusDraft,
					OwnerID: "eve",
				}
				if err := store.CreateDocument(ctx, doc); err != nil {
					return err
				}

				// leave the first one in draft, route the rest for review
				if i == 0 {
					continue
				}
				steps := []models.WorkflowStep{
					{ID: uuid.New().String(), DocumentID: doc.ID, StepOrder: 1, ApproverID: "mark"},
					{ID: uuid.New().String(), DocumentID: doc.ID, StepOrder: 2, ApproverID: "mona"},
				}
				if err := store.BeginWorkflow(ctx, doc.ID, steps, nil); err != nil {
					return err
				}
			}

			fmt.Println("seeded 3 demo documents for eve")
			return nil
		},
	}
}
