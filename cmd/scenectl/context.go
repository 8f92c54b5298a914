package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bazaar-it/bazaar-sub000/internal/apiclient"
	"github.com/bazaar-it/bazaar-sub000/internal/reconcile"
)

type commandContext struct {
	server   string
	token    string
	project  string
	cacheDir string
	verbose  bool
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) projectID() (string, error) {
	id := strings.TrimSpace(c.project)
	if id == "" {
		return "", errors.New("no project: pass --project or set SCENECTL_PROJECT")
	}
	return id, nil
}

func (c *commandContext) client() *apiclient.Client {
	return apiclient.New(c.server, c.token)
}

func (c *commandContext) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// withCache opens the project's on-disk cache, hands it to fn and saves it
// afterwards. Only one scenectl process may own a project's cache.
func (c *commandContext) withCache(fn func(projectID string, cache *reconcile.ClientSceneCache) error) error {
	projectID, err := c.projectID()
	if err != nil {
		return err
	}
	path := filepath.Join(c.cacheDir, sanitize(projectID)+".json")
	fc, err := reconcile.OpenFileCache(path)
	if errors.Is(err, reconcile.ErrCacheBusy) {
		return fmt.Errorf("project %s is in use by another scenectl process", projectID)
	}
	if err != nil {
		return err
	}
	defer fc.Close()

	cache, err := fc.Load(projectID)
	if err != nil {
		return err
	}
	fnErr := fn(projectID, cache)
	if err := fc.Save(cache); err != nil {
		return errors.Join(fnErr, fmt.Errorf("save cache: %w", err))
	}
	return fnErr
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "scenectl")
	}
	return filepath.Join(os.TempDir(), "scenectl")
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, id)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
