// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/persistence/sqlite"
)

const catalogSchemaVersion = 1

const catalogSchema = `
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	updated_at_ms INTEGER NOT NULL,
	record_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_updated ON downloads(updated_at_ms DESC);

CREATE TABLE IF NOT EXISTS side_channel (
	download_id TEXT PRIMARY KEY,
	payload_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS thumbnails (
	download_id TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// execer and rowQuerier are satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// catalog holds records, side-channel data, thumbnails and settings.
type catalog struct {
	db *sql.DB
}

func openCatalog(ctx context.Context, path string) (*catalog, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, catalogSchemaVersion, catalogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: migration failed: %w", err)
	}
	return &catalog{db: db}, nil
}

func (c *catalog) close() error { return c.db.Close() }

func updatedAtMillis(r *model.DownloadRecord) int64 {
	t, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

func (c *catalog) putRecord(ctx context.Context, x execer, rec model.DownloadRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = x.ExecContext(ctx, `
		INSERT INTO downloads (id, updated_at_ms, record_json) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at_ms = excluded.updated_at_ms, record_json = excluded.record_json`,
		rec.ID, updatedAtMillis(&rec), string(buf))
	return err
}

func scanRecord(raw string) (model.DownloadRecord, error) {
	var rec model.DownloadRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.DownloadRecord{}, fmt.Errorf("catalog: decode record: %w", err)
	}
	rec.Normalize()
	return rec, nil
}

func (c *catalog) getRecord(ctx context.Context, q rowQuerier, id string) (model.DownloadRecord, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT record_json FROM downloads WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DownloadRecord{}, false, nil
	}
	if err != nil {
		return model.DownloadRecord{}, false, err
	}
	rec, err := scanRecord(raw)
	if err != nil {
		return model.DownloadRecord{}, false, err
	}
	return rec, true, nil
}

func (c *catalog) listRecords(ctx context.Context) ([]model.DownloadRecord, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT record_json FROM downloads ORDER BY updated_at_ms DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DownloadRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := scanRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (c *catalog) updateRecord(ctx context.Context, id string, now time.Time, fn func(*model.DownloadRecord)) (model.DownloadRecord, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DownloadRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, ok, err := c.getRecord(ctx, tx, id)
	if err != nil {
		return model.DownloadRecord{}, err
	}
	if !ok {
		return model.DownloadRecord{}, fmt.Errorf("%w: download %s", model.ErrNotFound, id)
	}
	fn(&rec)
	rec.ID = id
	rec.Touch(now)
	if err := c.putRecord(ctx, tx, rec); err != nil {
		return model.DownloadRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.DownloadRecord{}, err
	}
	return rec, nil
}

func (c *catalog) deleteRecord(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	return err
}

func (c *catalog) putSideChannel(ctx context.Context, id string, comments []model.Comment) error {
	if comments == nil {
		comments = []model.Comment{}
	}
	buf, err := json.Marshal(comments)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO side_channel (download_id, payload_json) VALUES (?, ?)
		ON CONFLICT(download_id) DO UPDATE SET payload_json = excluded.payload_json`, id, string(buf))
	return err
}

func (c *catalog) getSideChannel(ctx context.Context, id string) ([]model.Comment, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT payload_json FROM side_channel WHERE download_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []model.Comment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, fmt.Errorf("catalog: decode side channel: %w", err)
	}
	return out, true, nil
}

func (c *catalog) deleteSideChannel(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM side_channel WHERE download_id = ?`, id)
	return err
}

func (c *catalog) putThumbnail(ctx context.Context, id string, thumb model.Thumbnail) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO thumbnails (download_id, content_type, data) VALUES (?, ?, ?)
		ON CONFLICT(download_id) DO UPDATE SET content_type = excluded.content_type, data = excluded.data`,
		id, thumb.ContentType, thumb.Data)
	return err
}

func (c *catalog) getThumbnail(ctx context.Context, id string) (model.Thumbnail, bool, error) {
	var t model.Thumbnail
	err := c.db.QueryRowContext(ctx, `SELECT content_type, data FROM thumbnails WHERE download_id = ?`, id).
		Scan(&t.ContentType, &t.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Thumbnail{}, false, nil
	}
	if err != nil {
		return model.Thumbnail{}, false, err
	}
	return t, true, nil
}

func (c *catalog) deleteThumbnail(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM thumbnails WHERE download_id = ?`, id)
	return err
}

func (c *catalog) getSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *catalog) putSetting(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (c *catalog) verify(ctx context.Context, mode sqlite.CheckMode) ([]string, error) {
	return sqlite.VerifyIntegrity(ctx, c.db, mode)
}
