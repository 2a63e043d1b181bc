package cache

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// entryRecord is the msgpack-encoded envelope stored for every L3 row.
// msgpack over JSON: the disk tier sees the highest volume of
// chart/orderbook entries, and msgpack is both more compact and
// schema-tolerant across rounds of field additions.
type entryRecord struct {
	Value     []byte `msgpack:"v"`
	ExpiresAt int64  `msgpack:"e"` // unix nanos
}

// SqliteTier is the durable L3 tier: a pure-Go, cgo-free embedded store
// suited to an on-disk cache that must survive process restarts.
type SqliteTier struct {
	db *sql.DB
}

// OpenSqliteTier opens (creating if necessary) a sqlite database at path
// and ensures the cache_entries table exists.
func OpenSqliteTier(path string) (*SqliteTier, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteTier{db: db}, nil
}

func (s *SqliteTier) Close() error { return s.db.Close() }

func (s *SqliteTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM cache_entries WHERE key = ? AND expires_at > ?`, key, time.Now().UnixNano())
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	var rec entryRecord
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, false, err
	}
	return rec.Value, true, nil
}

func (s *SqliteTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rec := entryRecord{Value: value, ExpiresAt: time.Now().Add(ttl).UnixNano()}
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO cache_entries (key, payload, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, payload, rec.ExpiresAt)
	return err
}

func (s *SqliteTier) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%")
	return err
}

func (s *SqliteTier) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
