// Package archive sweeps activities past the retention horizon into
// compressed archive files before deleting them from the live database.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"focusline/internal/config"
	"focusline/internal/domain"
	"focusline/internal/store"
)

type Archiver struct {
	Store     store.Repository
	Config    *config.Config
	Workspace string
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(st store.Repository, cfg *config.Config, workspace string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		Store:     st,
		Config:    cfg,
		Workspace: workspace,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Result reports one sweep.
type Result struct {
	Archived int    `json:"archived"`
	Path     string `json:"path,omitempty"`
}

// Sweep writes every closed activity older than the retention window to a
// zstd-compressed JSON-lines file under .focusline/archive, then deletes
// the archived rows. Retention of zero disables the sweep. Nothing is
// deleted unless the archive file was written and synced.
func (a *Archiver) Sweep(ctx context.Context) (Result, error) {
	days := a.Config.Monitor.RetentionDays
	if days <= 0 {
		return Result{}, nil
	}
	cutoff := a.Now().UTC().AddDate(0, 0, -days)

	activities, err := a.Store.ActivitiesBefore(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("list expired activities: %w", err)
	}
	if len(activities) == 0 {
		return Result{}, nil
	}

	dir := filepath.Join(a.Workspace, ".focusline", "archive")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, err
	}
	path := filepath.Join(dir, fmt.Sprintf("activities-%s.jsonl.zst", a.Now().UTC().Format("20060102-150405")))

	if err := writeArchive(path, activities); err != nil {
		return Result{}, err
	}

	deleted, err := a.Store.DeleteActivitiesBefore(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("delete archived activities: %w", err)
	}
	a.Logger.Info("retention sweep complete", "archived", len(activities), "deleted", deleted, "path", path)
	return Result{Archived: len(activities), Path: path}, nil
}

func writeArchive(path string, activities []domain.Activity) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	w := json.NewEncoder(enc)
	for _, a := range activities {
		if err := w.Encode(a); err != nil {
			enc.Close()
			return err
		}
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadArchive decodes one archive file back into activity records.
func ReadArchive(path string) ([]domain.Activity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []domain.Activity
	r := json.NewDecoder(dec)
	for {
		var a domain.Activity
		if err := r.Decode(&a); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, a)
	}
}
