package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jwebster45206/episode-engine/pkg/flags"
	"github.com/jwebster45206/episode-engine/pkg/state"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS episode_states (
  player_id  TEXT NOT NULL,
  episode_id TEXT NOT NULL,
  state_json TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (player_id, episode_id)
);
CREATE TABLE IF NOT EXISTS story_flags (
  player_id  TEXT NOT NULL,
  flag_key   TEXT NOT NULL,
  value_json TEXT NOT NULL,
  PRIMARY KEY (player_id, flag_key)
);
CREATE TABLE IF NOT EXISTS player_meta (
  player_id  TEXT PRIMARY KEY,
  meta_json  TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS profiles (
  player_id    TEXT PRIMARY KEY,
  profile_json TEXT NOT NULL,
  updated_at   INTEGER NOT NULL
);`

// SQLiteStorage implements the Storage interface on a single SQLite file
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Storage = (*SQLiteStorage)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// OpenSQLiteStorage opens (or creates) the database at path and applies the schema
func OpenSQLiteStorage(path string, logger *slog.Logger) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps transactions from contending on the file lock
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStorage{db: db, logger: logger}, nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStorage) LoadPlayerState(ctx context.Context, playerID string) (*state.PlayerState, error) {
	ps := state.NewPlayerState(playerID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT episode_id, state_json FROM episode_states WHERE player_id = ?`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query episode states: %w", err)
	}
	for rows.Next() {
		var episodeID, raw string
		if err := rows.Scan(&episodeID, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan episode state: %w", err)
		}
		var es state.EpisodeState
		if err := json.Unmarshal([]byte(raw), &es); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal episode state %s: %w", episodeID, err)
		}
		ps.Episodes[episodeID] = &es
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read episode states: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT flag_key, value_json FROM story_flags WHERE player_id = ?`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query story flags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan story flag: %w", err)
		}
		var v flags.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal story flag %s: %w", key, err)
		}
		ps.Flags.Set(key, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read story flags: %w", err)
	}

	var rawMeta string
	err = s.db.QueryRowContext(ctx, `SELECT meta_json FROM player_meta WHERE player_id = ?`, playerID).Scan(&rawMeta)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to load player meta: %w", err)
	default:
		var meta playerMeta
		if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal player meta: %w", err)
		}
		meta.applyTo(ps)
	}

	ps.Normalize()
	return ps, nil
}

// SavePlayerState replaces everything stored for the player in one SQL transaction
func (s *SQLiteStorage) SavePlayerState(ctx context.Context, ps *state.PlayerState) (err error) {
	if ps == nil || ps.PlayerID == "" {
		return errors.New("player state requires a player id")
	}
	ps.UpdatedAt = time.Now()
	updatedAt := toMillis(ps.UpdatedAt)

	meta, err := json.Marshal(metaOf(ps))
	if err != nil {
		return fmt.Errorf("failed to marshal player meta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			s.logger.Error("Failed to save player state", "player_id", ps.PlayerID, "error", err)
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM episode_states WHERE player_id = ?`, ps.PlayerID); err != nil {
		return fmt.Errorf("failed to clear episode states: %w", err)
	}
	for id, es := range ps.Episodes {
		data, mErr := json.Marshal(es)
		if mErr != nil {
			err = fmt.Errorf("failed to marshal episode state %s: %w", id, mErr)
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO episode_states (player_id, episode_id, state_json, updated_at) VALUES (?, ?, ?, ?)`,
			ps.PlayerID, id, string(data), updatedAt); err != nil {
			return fmt.Errorf("failed to write episode state %s: %w", id, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM story_flags WHERE player_id = ?`, ps.PlayerID); err != nil {
		return fmt.Errorf("failed to clear story flags: %w", err)
	}
	for key, v := range ps.Flags {
		data, mErr := json.Marshal(v)
		if mErr != nil {
			err = fmt.Errorf("failed to marshal story flag %s: %w", key, mErr)
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO story_flags (player_id, flag_key, value_json) VALUES (?, ?, ?)`,
			ps.PlayerID, key, string(data)); err != nil {
			return fmt.Errorf("failed to write story flag %s: %w", key, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO player_meta (player_id, meta_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(player_id) DO UPDATE SET meta_json = excluded.meta_json, updated_at = excluded.updated_at`,
		ps.PlayerID, string(meta), updatedAt); err != nil {
		return fmt.Errorf("failed to write player meta: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit player state: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeletePlayerState(ctx context.Context, playerID string) error {
	for _, table := range []string{"episode_states", "story_flags", "player_meta"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE player_id = ?`, playerID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) LoadProfile(ctx context.Context, playerID string) (*state.Profile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT profile_json FROM profiles WHERE player_id = ?`, playerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	var profile state.Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}

func (s *SQLiteStorage) SaveProfile(ctx context.Context, profile *state.Profile) error {
	if profile == nil || profile.PlayerID == "" {
		return errors.New("profile requires a player id")
	}
	profile.UpdatedAt = time.Now()
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (player_id, profile_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(player_id) DO UPDATE SET profile_json = excluded.profile_json, updated_at = excluded.updated_at`,
		profile.PlayerID, string(data), toMillis(profile.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
