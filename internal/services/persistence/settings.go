// Package persistence keeps the watering configuration in a small sqlite
// database so it survives restarts.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
)

const (
	keyTriggerExpression = "trigger_expression"
	keyWateringDuration  = "watering_duration_ms"
)

const schema = `CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

type SettingsStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" keeps
// everything in memory.
func Open(path string) (*SettingsStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	return NewSettingsStore(db)
}

func NewSettingsStore(db *sql.DB) (*SettingsStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create settings table: %w", err)
	}
	return &SettingsStore{db: db}, nil
}

// Save writes both values in one transaction.
func (s *SettingsStore) Save(ctx context.Context, cfg model.SprinklerConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, upsert, keyTriggerExpression, cfg.TriggerExpression); err != nil {
		return fmt.Errorf("save %s: %w", keyTriggerExpression, err)
	}
	dur := strconv.FormatUint(uint64(cfg.WateringDurationMs), 10)
	if _, err := tx.ExecContext(ctx, upsert, keyWateringDuration, dur); err != nil {
		return fmt.Errorf("save %s: %w", keyWateringDuration, err)
	}
	return tx.Commit()
}

// Load returns the stored configuration; missing keys leave their field zero.
func (s *SettingsStore) Load(ctx context.Context) (model.SprinklerConfig, error) {
	var cfg model.SprinklerConfig

	expr, err := s.get(ctx, keyTriggerExpression)
	if err != nil {
		return cfg, err
	}
	cfg.TriggerExpression = expr

	dur, err := s.get(ctx, keyWateringDuration)
	if err != nil {
		return cfg, err
	}
	if dur != "" {
		ms, err := strconv.ParseUint(dur, 10, 32)
		if err != nil {
			return cfg, fmt.Errorf("stored %s %q: %w", keyWateringDuration, dur, err)
		}
		cfg.WateringDurationMs = uint32(ms)
	}
	return cfg, nil
}

func (s *SettingsStore) get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return v, nil
}

func (s *SettingsStore) Close() error { return s.db.Close() }
