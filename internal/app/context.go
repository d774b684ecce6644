package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"radwerk/internal/config"
	"radwerk/internal/domain"
	"radwerk/internal/repo"
)

// ResolveWorkshopAndConfig picks the active workshop and ensures a
// workshop row + config exist in the DB, seeding defaults if missing.
// It prefers the override, then the single workshop in the DB. A
// missing workshop is created on the fly.
func ResolveWorkshopAndConfig(ctx context.Context, workshopOverride string, r repo.Repo) (string, *config.Config, error) {
	workshopID := workshopOverride
	if workshopID == "" {
		if w, err := r.SingleWorkshop(ctx); err == nil {
			workshopID = w.ID
		} else {
			return "", nil, fmt.Errorf("workshop not specified; use --workshop")
		}
	}
	seedCfg := config.Default(workshopID)

	if _, err := r.GetWorkshop(ctx, workshopID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createWorkshop(ctx, r, workshopID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetWorkshopConfig(ctx, workshopID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertWorkshopConfig(ctx, workshopID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed workshop config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Workshop.ID = workshopID
	return workshopID, cfg, nil
}

func createWorkshop(ctx context.Context, r repo.Repo, workshopID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(workshopID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	name := seedCfg.Workshop.Name
	if name == "" {
		name = workshopID
	}
	w := domain.Workshop{ID: workshopID, Name: name, Status: "active", CreatedAt: now}
	if err := r.InsertWorkshop(ctx, tx, w); err != nil {
		return err
	}
	if err := r.UpsertWorkshopConfigTx(ctx, tx, workshopID, seedCfg); err != nil {
		return fmt.Errorf("insert workshop config: %w", err)
	}
	return tx.Commit()
}
