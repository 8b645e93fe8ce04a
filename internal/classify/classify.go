// Package classify assigns categories to activities from the app mapping
// table in the workspace config. The mapping reloads live when the config
// file changes on disk, so edits take effect without restarting the monitor.
package classify

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"focusline/internal/config"
)

// Uncategorized is assigned when no mapping matches.
const Uncategorized = "uncategorized"

// Categorizer maps an observed application to a category name.
type Categorizer interface {
	Categorize(appName, title string) string
}

// Rules categorizes by case-insensitive substring match on the app name,
// falling back to the window title. Longest pattern wins so "chrome-beta"
// beats "chrome".
type Rules struct {
	configPath string
	logger     *slog.Logger

	mu       sync.RWMutex
	patterns []pattern
}

type pattern struct {
	match    string
	category string
}

func NewRules(cfg *config.Config, configPath string, logger *slog.Logger) *Rules {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rules{configPath: configPath, logger: logger}
	r.apply(cfg)
	return r
}

func (r *Rules) apply(cfg *config.Config) {
	patterns := make([]pattern, 0, len(cfg.Apps))
	for match, category := range cfg.Apps {
		patterns = append(patterns, pattern{match: strings.ToLower(match), category: category})
	}
	r.mu.Lock()
	r.patterns = patterns
	r.mu.Unlock()
}

func (r *Rules) Categorize(appName, title string) string {
	app := strings.ToLower(appName)
	winTitle := strings.ToLower(title)
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := ""
	bestLen := 0
	for _, p := range r.patterns {
		if len(p.match) <= bestLen {
			continue
		}
		if strings.Contains(app, p.match) || strings.Contains(winTitle, p.match) {
			best = p.category
			bestLen = len(p.match)
		}
	}
	if best == "" {
		return Uncategorized
	}
	return best
}

// Watch reloads the mapping whenever the config file is rewritten. It
// blocks until ctx is cancelled. A config that fails to parse keeps the
// previous mapping in place.
func (r *Rules) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.configPath); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			cfg, err := config.FromFile(r.configPath)
			if err != nil {
				r.logger.Warn("config reload skipped", "path", r.configPath, "error", err)
				continue
			}
			r.apply(cfg)
			r.logger.Info("app mapping reloaded", "patterns", len(cfg.Apps))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("config watch error", "error", err)
		}
	}
}
