package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/hydrodrone/mission/internal/api"
	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/database"
	"github.com/hydrodrone/mission/internal/model"
	"github.com/hydrodrone/mission/internal/node"
)

var ErrNoPaths = errors.New("no run databases given")

// expandPaths replaces directories by the .db files they contain.
func expandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		dbs, err := database.BackupDBPaths(p)
		if err != nil {
			return nil, err
		}
		out = append(out, dbs...)
	}
	return out, nil
}

// readRunMetadata describes the first run stored in the database at path.
func readRunMetadata(path string) (api.RunMetadata, error) {
	db, err := database.OpenSqlite(path)
	if err != nil {
		return api.RunMetadata{}, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	var run model.MissionRun
	if err := db.Order("started_at").First(&run).Error; err != nil {
		return api.RunMetadata{}, fmt.Errorf("read run from %s: %w", path, err)
	}
	meta := api.RunMetadata{
		RunID:   run.ID,
		Outcome: run.Outcome,
		Planned: int(run.Planned),
		Visited: int(run.Visited),
	}
	if run.EndedAt.Valid {
		meta.Duration = run.EndedAt.Time.Sub(run.StartedAt)
	}
	return meta, nil
}

func uploadRuns(n *node.Node, paths []string) error {
	if len(paths) == 0 {
		return ErrNoPaths
	}
	files, err := expandPaths(paths)
	if err != nil {
		return err
	}

	ac := config.GetArchiveConfig()
	client := api.New(ac.URL, ac.Secret)
	if err := client.Healthcheck(); err != nil {
		return fmt.Errorf("archive %s: %w", ac.URL, err)
	}

	var errs []error
	for _, f := range files {
		meta, err := readRunMetadata(f)
		if err != nil {
			n.Logger.Warn("Skipping database without a run", "path", f, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := client.Upload(f, meta); err != nil {
			n.Logger.Error("Upload failed", "path", f, "error", err)
			errs = append(errs, err)
			continue
		}
		n.Logger.Info("Uploaded run database", "path", f, "run", meta.RunID, "outcome", meta.Outcome)
	}
	return errors.Join(errs...)
}
