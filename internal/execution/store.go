package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/hopwise/traderoute/internal/errors"
)

// Store persists trade snapshots so a host can show confirmed-route and hop
// state after a reload. The engine itself has no persistence requirement.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, clierr.Wrap(clierr.CodeStore, "create trade store directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, clierr.Wrap(clierr.CodeStore, "create trade lock directory", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeStore, "open trade sqlite", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			completed INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_trades_completed_updated ON trades(completed, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, clierr.Wrap(clierr.CodeStore, "init trade schema", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(trade Trade) error {
	if strings.TrimSpace(trade.ID) == "" {
		return clierr.New(clierr.CodeStore, "save trade: missing trade id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return clierr.Wrap(clierr.CodeStore, "lock trade store", err)
	}
	if !locked {
		return clierr.New(clierr.CodeStore, "lock trade store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(trade)
	if err != nil {
		return clierr.Wrap(clierr.CodeStore, "marshal trade", err)
	}
	createdUnix := parseRFC3339Unix(trade.CreatedAt)
	updatedUnix := parseRFC3339Unix(trade.UpdatedAt)
	if createdUnix == 0 {
		createdUnix = time.Now().UTC().Unix()
	}
	if updatedUnix == 0 {
		updatedUnix = time.Now().UTC().Unix()
	}
	completed := 0
	if trade.Completed() {
		completed = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO trades (trade_id, provider, completed, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET
			provider=excluded.provider,
			completed=excluded.completed,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, trade.ID, string(trade.Route.Provider), completed, createdUnix, updatedUnix, payload)
	if err != nil {
		return clierr.Wrap(clierr.CodeStore, "save trade", err)
	}
	return nil
}

func (s *Store) Get(tradeID string) (Trade, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM trades WHERE trade_id = ?", tradeID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trade{}, clierr.New(clierr.CodeStore, fmt.Sprintf("trade not found: %s", tradeID))
		}
		return Trade{}, clierr.Wrap(clierr.CodeStore, "read trade", err)
	}
	var trade Trade
	if err := json.Unmarshal(payload, &trade); err != nil {
		return Trade{}, clierr.Wrap(clierr.CodeStore, "decode trade payload", err)
	}
	return trade, nil
}

func (s *Store) List(limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query("SELECT payload FROM trades ORDER BY updated_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeStore, "list trades", err)
	}
	defer rows.Close()

	trades := make([]Trade, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, clierr.Wrap(clierr.CodeStore, "scan trade row", err)
		}
		var trade Trade
		if err := json.Unmarshal(payload, &trade); err != nil {
			return nil, clierr.Wrap(clierr.CodeStore, "decode trade row", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, clierr.Wrap(clierr.CodeStore, "iterate trade rows", err)
	}
	return trades, nil
}

func parseRFC3339Unix(v string) int64 {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0
	}
	return t.UTC().Unix()
}
