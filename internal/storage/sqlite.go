// Package storage is the SQL-capable persistence layer referenced as an
// external collaborator in spec.md §6: it preloads active blocks at
// startup, durably persists new ones in the background, and answers the
// auxiliary permanent-blacklist lookup. It is never on the request path.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
)

// BlockRecord mirrors blacklist.Entry in a form the SQL layer owns; kept
// separate from blacklist.Entry so internal/blacklist never needs to know
// about database/sql.
type BlockRecord struct {
	ID              uuid.UUID
	IP              string
	FingerprintHash string
	Route           string
	PolicyName      string
	Scope           string
	Reason          string
	IsPermanent     bool
	IsActive        bool
	ExpiresAt       *time.Time
	CreatedAt       time.Time
}

// BlockStore is the durable persistence collaborator from spec.md §6:
// preload_active_blocks, persist_block, lookup_permanent. The Open Question
// in §9 is resolved here by folding the auxiliary PermanentBlacklist table
// into SecurityBlock (is_permanent=true); IsPermanentlyBlocked is a query
// over the same table rather than a second one.
type BlockStore struct {
	db *sql.DB
}

// NewBlockStore opens (creating if absent) a SQLite database at dsn and
// runs migrations. dsn is the value of the SECURITY_DB environment
// variable, e.g. "system_security.db" or "file:system_security.db".
func NewBlockStore(dsn string) (*BlockStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening security database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	store := &BlockStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("security database initialized", "dsn", dsn)
	return store, nil
}

func (s *BlockStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS security_blocks (
		id TEXT PRIMARY KEY,
		ip_address TEXT NOT NULL,
		fingerprint_hash TEXT,
		route TEXT,
		policy_name TEXT NOT NULL,
		scope TEXT NOT NULL,
		reason TEXT NOT NULL,
		is_permanent INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		expires_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_security_blocks_ip ON security_blocks(ip_address);
	CREATE INDEX IF NOT EXISTS idx_security_blocks_active ON security_blocks(is_active);
	CREATE INDEX IF NOT EXISTS idx_security_blocks_permanent ON security_blocks(ip_address, is_permanent) WHERE is_permanent = 1;
	`
	_, err := s.db.Exec(schema)
	return err
}

// PersistBlock durably writes a block record. Called from the background
// scheduler, never from the request path; callers should log-and-continue
// on error rather than propagate it to the in-memory decision (spec.md §7).
func (s *BlockStore) PersistBlock(ctx context.Context, rec BlockRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO security_blocks
		(id, ip_address, fingerprint_hash, route, policy_name, scope, reason, is_permanent, is_active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(),
		rec.IP,
		nullableString(rec.FingerprintHash),
		nullableString(rec.Route),
		rec.PolicyName,
		rec.Scope,
		rec.Reason,
		boolToInt(rec.IsPermanent),
		boolToInt(rec.IsActive),
		rec.ExpiresAt,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("persisting block %s: %w", rec.ID, err)
	}
	return nil
}

// PreloadActiveBlocks returns every BlockRecord with is_active=true, for
// the firewall to seed its in-memory cache before accepting traffic
// (spec.md §4.6 preload_cache). A failure here is fatal at startup: durable
// blocks would otherwise silently disappear (spec.md §7).
func (s *BlockStore) PreloadActiveBlocks(ctx context.Context) ([]BlockRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ip_address, fingerprint_hash, route, policy_name, scope, reason, is_permanent, is_active, expires_at, created_at
		FROM security_blocks WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("querying active blocks: %w", err)
	}
	defer rows.Close()

	var records []BlockRecord
	for rows.Next() {
		rec, err := scanBlockRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning active block: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating active blocks: %w", err)
	}

	return records, nil
}

// IsPermanentlyBlocked answers the auxiliary lookup from spec.md §6's
// persistence contract (lookup_permanent), folded into security_blocks per
// the Open Question resolution in §9 and DESIGN.md.
func (s *BlockStore) IsPermanentlyBlocked(ctx context.Context, ip string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM security_blocks
		WHERE ip_address = ? AND is_permanent = 1 AND is_active = 1
		LIMIT 1`, ip)

	var found int
	err := row.Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking permanent block for %s: %w", ip, err)
	}
	return true, nil
}

// Close closes the underlying database handle.
func (s *BlockStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlockRecord(row rowScanner) (BlockRecord, error) {
	var rec BlockRecord
	var id string
	var fingerprintHash, route sql.NullString
	var isPermanent, isActive int
	var expiresAt sql.NullTime

	if err := row.Scan(
		&id,
		&rec.IP,
		&fingerprintHash,
		&route,
		&rec.PolicyName,
		&rec.Scope,
		&rec.Reason,
		&isPermanent,
		&isActive,
		&expiresAt,
		&rec.CreatedAt,
	); err != nil {
		return BlockRecord{}, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return BlockRecord{}, fmt.Errorf("parsing block id %q: %w", id, err)
	}
	rec.ID = parsedID
	rec.FingerprintHash = fingerprintHash.String
	rec.Route = route.String
	rec.IsPermanent = isPermanent != 0
	rec.IsActive = isActive != 0
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}

	return rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
