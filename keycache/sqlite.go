package keycache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// keycacheRow is the SQLite row shape. Timestamps are unix seconds so the
// file is readable by other tooling on the same host.
type keycacheRow struct {
	bun.BaseModel `bun:"table:keycache,alias:kc"`

	Issuer     string `bun:"issuer,pk"`
	KeyID      string `bun:"key_id,pk"`
	KeyData    string `bun:"key_data,notnull"`
	CacheTimer int64  `bun:"cache_timer,notnull"`
	FetchedAt  int64  `bun:"fetched_at,notnull"`
	NextUpdate int64  `bun:"next_update,notnull"`
}

type sqliteStore struct {
	db *bun.DB
}

// OpenSQLiteStore opens (creating if needed) the SQLite-backed key store at
// path. The file survives process restarts and is safe for concurrent use
// from multiple processes; writes are whole-row upserts.
func OpenSQLiteStore(path string) (Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open key cache db: %w", err)
	}
	// One connection per process: in-process access is serialized here,
	// cross-process access by sqlite's file locking.
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Serialize cross-process writers instead of failing fast on lock
	// contention.
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure key cache db: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*keycacheRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create keycache table: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, issuer, keyID string) (*Entry, error) {
	row := new(keycacheRow)
	err := s.db.NewSelect().Model(row).
		Where("issuer = ?", issuer).
		Where("key_id = ?", keyID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key cache entry: %w", err)
	}
	return rowToEntry(row), nil
}

func (s *sqliteStore) Put(ctx context.Context, entry *Entry) error {
	row := entryToRow(entry)
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (issuer, key_id) DO UPDATE").
		Set("key_data = EXCLUDED.key_data").
		Set("cache_timer = EXCLUDED.cache_timer").
		Set("fetched_at = EXCLUDED.fetched_at").
		Set("next_update = EXCLUDED.next_update").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("write key cache entry: %w", err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]Entry, error) {
	var rows []keycacheRow
	if err := s.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list key cache entries: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for i := range rows {
		entries = append(entries, *rowToEntry(&rows[i]))
	}
	return entries, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func rowToEntry(row *keycacheRow) *Entry {
	return &Entry{
		Issuer:     row.Issuer,
		KeyID:      row.KeyID,
		KeyData:    row.KeyData,
		CacheTimer: time.Duration(row.CacheTimer) * time.Second,
		FetchedAt:  time.Unix(row.FetchedAt, 0),
		NextUpdate: time.Unix(row.NextUpdate, 0),
	}
}

func entryToRow(e *Entry) *keycacheRow {
	return &keycacheRow{
		Issuer:     e.Issuer,
		KeyID:      e.KeyID,
		KeyData:    e.KeyData,
		CacheTimer: int64(e.CacheTimer / time.Second),
		FetchedAt:  e.FetchedAt.Unix(),
		NextUpdate: e.NextUpdate.Unix(),
	}
}
