package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

const scenesSchema = `
CREATE TABLE IF NOT EXISTS scenes (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	order_index INTEGER NOT NULL,
	duration    INTEGER NOT NULL,
	content     TEXT NOT NULL,
	name        TEXT NOT NULL,
	updated_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scenes_project_order ON scenes (project_id, order_index);
`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLSceneStore is a SceneStore over database/sql. It runs on Postgres
// (driver "postgres") and SQLite (driver "sqlite"). Every write is one
// transaction that also renumbers order_index so the order stays contiguous.
type SQLSceneStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLSceneStore opens the database and creates the schema.
func OpenSQLSceneStore(ctx context.Context, driver, dsn string) (*SQLSceneStore, error) {
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported scene store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if driver == "sqlite" {
		// a single connection keeps in-memory databases shared
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
			}
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLSceneStore{db: db, driver: driver}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLSceneStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLSceneStore) initSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(scenesSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLSceneStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FetchScenes implements SceneStore.
func (s *SQLSceneStore) FetchScenes(ctx context.Context, projectID string) ([]model.Scene, error) {
	var scenes []model.Scene
	err := s.retryOnBusy(ctx, func() error {
		var err error
		scenes, err = s.fetch(ctx, s.db, projectID)
		return err
	})
	if err != nil {
		return nil, unavailable("fetch scenes", err)
	}
	return model.Normalize(scenes), nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLSceneStore) fetch(ctx context.Context, q querier, projectID string) ([]model.Scene, error) {
	rows, err := q.QueryContext(ctx, s.rebind(
		`SELECT id, project_id, order_index, duration, content, name, updated_at
		 FROM scenes WHERE project_id = ? ORDER BY order_index`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scenes := []model.Scene{}
	for rows.Next() {
		var (
			sc        model.Scene
			updatedAt int64
		)
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.OrderIndex, &sc.Duration, &sc.Content, &sc.Name, &updatedAt); err != nil {
			return nil, err
		}
		sc.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		scenes = append(scenes, sc)
	}
	return scenes, rows.Err()
}

// CommitScene implements SceneStore.
func (s *SQLSceneStore) CommitScene(ctx context.Context, scene model.Scene) (model.Scene, error) {
	if scene.ID == "" || scene.ProjectID == "" {
		return model.Scene{}, errors.New("commit scene: id and project id are required")
	}
	scene.Duration = scene.EffectiveDuration()
	now := time.Now().UTC()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT project_id FROM scenes WHERE id = ?`), scene.ID).Scan(&owner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			var count int
			if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM scenes WHERE project_id = ?`), scene.ProjectID).Scan(&count); err != nil {
				return err
			}
			pos := clampPosition(scene.OrderIndex, count)
			if _, err := tx.ExecContext(ctx, s.rebind(
				`UPDATE scenes SET order_index = order_index + 1 WHERE project_id = ? AND order_index >= ?`),
				scene.ProjectID, pos); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, s.rebind(
				`INSERT INTO scenes (id, project_id, order_index, duration, content, name, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`),
				scene.ID, scene.ProjectID, pos, scene.Duration, scene.Content, scene.Name, now.UnixMilli())
			return err
		case err != nil:
			return err
		case owner != scene.ProjectID:
			return fmt.Errorf("scene %s in project %s: %w", scene.ID, scene.ProjectID, model.ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE scenes SET duration = ?, content = ?, name = ?, updated_at = ? WHERE id = ?`),
			scene.Duration, scene.Content, scene.Name, now.UnixMilli(), scene.ID)
		return err
	})
	if err != nil {
		return model.Scene{}, unavailable("commit scene", err)
	}

	scenes, err := s.FetchScenes(ctx, scene.ProjectID)
	if err != nil {
		return model.Scene{}, err
	}
	i := model.FindScene(scenes, scene.ID)
	if i < 0 {
		return model.Scene{}, model.ErrSceneNotFound
	}
	return scenes[i], nil
}

// DeleteScene implements SceneStore.
func (s *SQLSceneStore) DeleteScene(ctx context.Context, projectID, sceneID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var idx int
		err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT order_index FROM scenes WHERE id = ? AND project_id = ?`), sceneID, projectID).Scan(&idx)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrSceneNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM scenes WHERE id = ?`), sceneID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE scenes SET order_index = order_index - 1 WHERE project_id = ? AND order_index > ?`),
			projectID, idx)
		return err
	})
	return unavailable("delete scene", err)
}

// MoveScene implements SceneStore.
func (s *SQLSceneStore) MoveScene(ctx context.Context, projectID, sceneID string, position int) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		scenes, err := s.fetch(ctx, tx, projectID)
		if err != nil {
			return err
		}
		ids := make([]string, len(scenes))
		for i, sc := range scenes {
			ids[i] = sc.ID
		}
		reordered, err := moveID(ids, sceneID, position)
		if err != nil {
			return err
		}
		for i, id := range reordered {
			if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE scenes SET order_index = ? WHERE id = ?`), i, id); err != nil {
				return err
			}
		}
		return nil
	})
	return unavailable("move scene", err)
}

func (s *SQLSceneStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *SQLSceneStore) retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if s.driver != "sqlite" || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
