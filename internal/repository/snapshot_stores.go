package repository

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"PatternMemory/internal/domain/models"
	domrepo "PatternMemory/internal/domain/repository"
	"PatternMemory/internal/services/memory"
	pkgcache "PatternMemory/pkg/cache"
	pkgch "PatternMemory/pkg/clickhouse"
)

// FileSnapshotStore keeps the snapshot in one JSON file. Writes go to a temp file
// in the same directory and are renamed over the old one.
type FileSnapshotStore struct {
	path string
}

func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

func (s *FileSnapshotStore) Name() string { return "file" }

func (s *FileSnapshotStore) Save(ctx context.Context, snap *models.MemorySnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".memory-*.json")
	if err != nil {
		return fmt.Errorf("snapshot temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := memory.EncodeSnapshot(tmp, snap); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("snapshot rename: %w", err)
	}
	return nil
}

func (s *FileSnapshotStore) Load(ctx context.Context) (*models.MemorySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return memory.DecodeSnapshot(f)
}

const snapshotKey = "memory:snapshot"

// RedisSnapshotStore keeps the snapshot as one Redis value without expiry.
type RedisSnapshotStore struct {
	kv pkgcache.Store
}

func NewRedisSnapshotStore(kv pkgcache.Store) *RedisSnapshotStore {
	return &RedisSnapshotStore{kv: kv}
}

func (s *RedisSnapshotStore) Name() string { return "redis" }

func (s *RedisSnapshotStore) Save(ctx context.Context, snap *models.MemorySnapshot) error {
	var buf bytes.Buffer
	if err := memory.EncodeSnapshot(&buf, snap); err != nil {
		return err
	}
	if err := s.kv.SetBytes(ctx, snapshotKey, buf.Bytes(), 0); err != nil {
		return fmt.Errorf("redis save snapshot: %w", err)
	}
	return nil
}

func (s *RedisSnapshotStore) Load(ctx context.Context) (*models.MemorySnapshot, error) {
	b, err := s.kv.GetBytes(ctx, snapshotKey)
	if errors.Is(err, pkgcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load snapshot: %w", err)
	}
	return memory.DecodeSnapshot(bytes.NewReader(b))
}

// sqlSnapshotStore appends one row per save and loads the newest. Shared by the
// ClickHouse and Postgres backends, which differ only in DDL and placeholders.
type sqlSnapshotStore struct {
	name   string
	db     *sqlx.DB
	insert string
	latest string
}

func (s *sqlSnapshotStore) Name() string { return s.name }

func (s *sqlSnapshotStore) Save(ctx context.Context, snap *models.MemorySnapshot) error {
	var buf bytes.Buffer
	if err := memory.EncodeSnapshot(&buf, snap); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.insert, snap.SavedAt.UTC(), snap.SchemaVersion, buf.String()); err != nil {
		return fmt.Errorf("%s save snapshot: %w", s.name, err)
	}
	return nil
}

type snapshotRow struct {
	SavedAt       time.Time `db:"saved_at"`
	SchemaVersion int       `db:"schema_version"`
	Payload       string    `db:"payload"`
}

func (s *sqlSnapshotStore) Load(ctx context.Context) (*models.MemorySnapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, s.latest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s load snapshot: %w", s.name, err)
	}
	return memory.DecodeSnapshot(bytes.NewReader([]byte(row.Payload)))
}

const chSnapshotTable = "memory_snapshots"

// NewCHSnapshotStore stores snapshots in ClickHouse through the shared client.
func NewCHSnapshotStore(ctx context.Context, ch *pkgch.Client) (domrepo.SnapshotStore, error) {
	ddl := `CREATE TABLE IF NOT EXISTS ` + chSnapshotTable + ` (
    saved_at DateTime64(3, 'UTC'),
    schema_version UInt16,
    payload String
) ENGINE = MergeTree
ORDER BY saved_at
TTL toDateTime(saved_at) + INTERVAL 7 DAY`
	if err := ch.InitSchema(ctx, []string{ddl}); err != nil {
		return nil, err
	}
	return &sqlSnapshotStore{
		name:   "clickhouse",
		db:     sqlx.NewDb(ch.DB(), "clickhouse"),
		insert: `INSERT INTO ` + chSnapshotTable + ` (saved_at, schema_version, payload) VALUES (?, ?, ?)`,
		latest: `SELECT saved_at, schema_version, payload FROM ` + chSnapshotTable + ` ORDER BY saved_at DESC LIMIT 1`,
	}, nil
}

const pgSnapshotDDL = `CREATE TABLE IF NOT EXISTS memory_snapshots (
    id BIGSERIAL PRIMARY KEY,
    saved_at TIMESTAMPTZ NOT NULL,
    schema_version INTEGER NOT NULL,
    payload JSONB NOT NULL
)`

// NewPGSnapshotStore opens Postgres and ensures the snapshot table exists.
func NewPGSnapshotStore(ctx context.Context, dsn string, maxOpen int) (domrepo.SnapshotStore, func() error, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres connect: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	if _, err := db.ExecContext(ctx, pgSnapshotDDL); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("postgres schema: %w", err)
	}
	return newPGSnapshotStore(db), db.Close, nil
}

func newPGSnapshotStore(db *sqlx.DB) *sqlSnapshotStore {
	return &sqlSnapshotStore{
		name:   "postgres",
		db:     db,
		insert: `INSERT INTO memory_snapshots (saved_at, schema_version, payload) VALUES ($1, $2, $3)`,
		latest: `SELECT saved_at, schema_version, payload::text AS payload FROM memory_snapshots ORDER BY id DESC LIMIT 1`,
	}
}

var (
	_ domrepo.SnapshotStore = (*FileSnapshotStore)(nil)
	_ domrepo.SnapshotStore = (*RedisSnapshotStore)(nil)
	_ domrepo.SnapshotStore = (*sqlSnapshotStore)(nil)
)
