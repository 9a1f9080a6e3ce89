package sys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// --- Connection & Lifecycle ---

var DB *sqlx.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	if dir := filepath.Dir(dataSourceName); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	var err error
	DB, err = sqlx.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTxx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS room_settings (
			guild_id TEXT PRIMARY KEY,
			volume INTEGER NOT NULL DEFAULT 100,
			text_channel_id TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS resolve_skips (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			request TEXT NOT NULL,
			title TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resolve_skips_guild ON resolve_skips(guild_id, created_at)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Bot Persistence ---

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.GetContext(ctx, &value, "SELECT value FROM bot_config WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Room Settings ---

type RoomSettings struct {
	GuildID       string         `db:"guild_id"`
	Volume        int            `db:"volume"`
	TextChannelID sql.NullString `db:"text_channel_id"`
}

// GetRoomVolume returns the stored volume for a guild, or def when none is stored.
func GetRoomVolume(ctx context.Context, guildID snowflake.ID, def int) (int, error) {
	var s RoomSettings
	err := DB.GetContext(ctx, &s, "SELECT guild_id, volume, text_channel_id FROM room_settings WHERE guild_id = ?", guildID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return s.Volume, nil
}

func SetRoomVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO room_settings (guild_id, volume) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET volume = excluded.volume, updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), volume)
	return err
}

// --- Skip Log ---

type ResolveSkip struct {
	ID        int64     `db:"id"`
	JobID     string    `db:"job_id"`
	GuildID   string    `db:"guild_id"`
	Request   string    `db:"request"`
	Title     string    `db:"title"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

// AddResolveSkips stores every entry dropped while resolving one request.
func AddResolveSkips(ctx context.Context, skips []ResolveSkip) error {
	if len(skips) == 0 {
		return nil
	}
	_, err := DB.NamedExecContext(ctx, `
		INSERT INTO resolve_skips (job_id, guild_id, request, title, reason)
		VALUES (:job_id, :guild_id, :request, :title, :reason)
	`, skips)
	return err
}

func GetRecentResolveSkips(ctx context.Context, guildID snowflake.ID, limit int) ([]ResolveSkip, error) {
	var skips []ResolveSkip
	err := DB.SelectContext(ctx, &skips, `
		SELECT id, job_id, guild_id, request, title, reason, created_at
		FROM resolve_skips WHERE guild_id = ?
		ORDER BY id DESC LIMIT ?
	`, guildID.String(), limit)
	return skips, err
}
