package mapping

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"rondot/internal"
)

// ErrNotFound is returned by operations that require an existing record.
var ErrNotFound = errors.New("mapping not found")

// Store persists supplier-code to internal-code correspondences. It is the
// only mutable shared state in the resolution path; sqlite serializes
// concurrent upserts on the same key.
type Store struct {
	conn *sql.DB
	log  *zap.Logger
}

func Open(path string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &Store{conn: conn, log: log}
	if err := s.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS supplier_mappings (
  externalCode TEXT NOT NULL,
  supplierId TEXT NOT NULL,
  externalDescription TEXT NOT NULL DEFAULT '',
  internalCode TEXT NOT NULL DEFAULT '',
  method TEXT NOT NULL DEFAULT 'PENDING',
  confidence INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'PENDING',
  useCount INTEGER NOT NULL DEFAULT 0,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  lastUsedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (externalCode, supplierId)
);
CREATE INDEX IF NOT EXISTS idx_mappings_status ON supplier_mappings(status);
CREATE INDEX IF NOT EXISTS idx_mappings_supplier ON supplier_mappings(supplierId);
`
	_, err := s.conn.Exec(schema)
	return err
}

// Get returns the record for (code, supplierID), bumping useCount and
// lastUsedAt on the hit. Returns (nil, nil) on a miss: a miss is a result,
// not an error.
func (s *Store) Get(code, supplierID string) (*internal.MappingRecord, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
UPDATE supplier_mappings
SET useCount = useCount + 1, lastUsedAt = CURRENT_TIMESTAMP
WHERE externalCode = ? AND supplierId = ?
`, code, supplierID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}

	rec, err := scanRecord(tx.QueryRow(selectColumns+`
WHERE externalCode = ? AND supplierId = ?`, code, supplierID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Peek reads a record without touching its usage counters.
func (s *Store) Peek(code, supplierID string) (*internal.MappingRecord, error) {
	rec, err := scanRecord(s.conn.QueryRow(selectColumns+`
WHERE externalCode = ? AND supplierId = ?`, code, supplierID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Save upserts an automatically derived record. An existing VALIDATED or
// REJECTED row is never overwritten here: status transitions are forward-only
// and only Validate/Reject move a row out of PENDING. useCount is preserved.
// Transient write failures are retried once before surfacing, since silently
// losing a learned mapping corrupts the learning loop.
func (s *Store) Save(rec internal.MappingRecord) error {
	if rec.Confidence < 0 || rec.Confidence > 100 {
		return fmt.Errorf("mapping confidence out of range: %d", rec.Confidence)
	}

	exec := func() error {
		_, err := s.conn.Exec(`
INSERT INTO supplier_mappings (externalCode, supplierId, externalDescription, internalCode, method, confidence, status)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(externalCode, supplierId) DO UPDATE SET
  externalDescription = excluded.externalDescription,
  internalCode = excluded.internalCode,
  method = excluded.method,
  confidence = excluded.confidence,
  status = excluded.status,
  lastUsedAt = CURRENT_TIMESTAMP
WHERE supplier_mappings.status = 'PENDING'
`, rec.ExternalCode, rec.SupplierID, rec.ExternalDescription, rec.InternalCode,
			string(rec.Method), rec.Confidence, string(rec.Status))
		return err
	}

	err := s.retryTransient(rec.ExternalCode, exec)
	if err != nil {
		if isConstraintViolation(err) {
			// The upsert should have absorbed any key conflict.
			s.log.Error("mapping upsert violated key constraint",
				zap.String("code", rec.ExternalCode),
				zap.String("supplier", rec.SupplierID),
				zap.Error(err))
		}
		return fmt.Errorf("save mapping %s/%s: %w", rec.ExternalCode, rec.SupplierID, err)
	}
	return nil
}

// retryTransient runs fn, retrying exactly once when the failure looks like a
// transient sqlite busy/locked condition. Anything else surfaces immediately.
func (s *Store) retryTransient(code string, fn func() error) error {
	err := fn()
	if err != nil && isTransient(err) {
		s.log.Warn("mapping save retrying after transient failure",
			zap.String("code", code), zap.Error(err))
		err = fn()
	}
	return err
}

// Validate records a manual review decision: the mapping becomes VALIDATED
// with full confidence regardless of its prior state.
func (s *Store) Validate(code, supplierID, internalCode string) error {
	_, err := s.conn.Exec(`
INSERT INTO supplier_mappings (externalCode, supplierId, internalCode, method, confidence, status)
VALUES (?, ?, ?, 'MANUAL', 100, 'VALIDATED')
ON CONFLICT(externalCode, supplierId) DO UPDATE SET
  internalCode = excluded.internalCode,
  method = 'MANUAL',
  confidence = 100,
  status = 'VALIDATED',
  lastUsedAt = CURRENT_TIMESTAMP
`, code, supplierID, internalCode)
	if err != nil {
		return fmt.Errorf("validate mapping %s/%s: %w", code, supplierID, err)
	}
	return nil
}

// Reject moves a PENDING record to REJECTED. Validated records stay as they are.
func (s *Store) Reject(code, supplierID string) error {
	res, err := s.conn.Exec(`
UPDATE supplier_mappings SET status = 'REJECTED', lastUsedAt = CURRENT_TIMESTAMP
WHERE externalCode = ? AND supplierId = ? AND status = 'PENDING'
`, code, supplierID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListPending(limit int) ([]internal.MappingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(selectColumns+`
WHERE status = 'PENDING' ORDER BY useCount DESC, createdAt ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.MappingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Stats aggregates the mapping table for the admin surface.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
	ByMethod map[string]int `json:"byMethod"`
}

func (s *Store) Statistics() (Stats, error) {
	stats := Stats{ByStatus: map[string]int{}, ByMethod: map[string]int{}}

	rows, err := s.conn.Query(`SELECT status, method, COUNT(*) FROM supplier_mappings GROUP BY status, method`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var status, method string
		var count int
		if err := rows.Scan(&status, &method, &count); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByMethod[method] += count
	}
	return stats, rows.Err()
}

const selectColumns = `
SELECT externalCode, supplierId, externalDescription, internalCode, method, confidence, status, useCount, createdAt, lastUsedAt
FROM supplier_mappings
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*internal.MappingRecord, error) {
	var rec internal.MappingRecord
	var method, status, createdAt, lastUsedAt string
	if err := row.Scan(
		&rec.ExternalCode, &rec.SupplierID, &rec.ExternalDescription, &rec.InternalCode,
		&method, &rec.Confidence, &status, &rec.UseCount, &createdAt, &lastUsedAt,
	); err != nil {
		return nil, err
	}
	rec.Method = internal.MappingMethod(method)
	rec.Status = internal.MappingStatus(status)
	rec.CreatedAt = parseTimestamp(createdAt)
	rec.LastUsedAt = parseTimestamp(lastUsedAt)
	return &rec, nil
}

func parseTimestamp(value string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

func isConstraintViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "constraint")
}
