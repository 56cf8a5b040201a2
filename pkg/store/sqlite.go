package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/exploopio/scanorch/pkg/compress"
	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

// SQLite is a Repository backed by a SQLite database file. Raw tool output
// is stored compressed.
type SQLite struct {
	db    *sql.DB
	mu    sync.RWMutex
	codec *compress.Codec
	now   func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path. The special
// path ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes
	// writers without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLite{
		db:    db,
		codec: compress.NewCodec(compress.DefaultMinSize),
		now:   time.Now,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT 'standard',
		target_url TEXT NOT NULL,
		scan_type TEXT NOT NULL,
		adapters TEXT,
		options TEXT,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 1,
		error_message TEXT NOT NULL DEFAULT '',
		retry_of TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS vulnerabilities (
		id TEXT PRIMARY KEY,
		scan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		cve_id TEXT NOT NULL DEFAULT '',
		cvss_score REAL,
		scanner_name TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		evidence TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS scan_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL,
		message TEXT NOT NULL,
		level TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS adapter_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL,
		adapter TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		summary TEXT,
		scan_log TEXT,
		raw_output BLOB,
		raw_algo TEXT NOT NULL DEFAULT 'none',
		raw_size INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_scans_account_created ON scans(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
	CREATE INDEX IF NOT EXISTS idx_vulns_scan ON vulnerabilities(scan_id, seq);
	CREATE INDEX IF NOT EXISTS idx_vulns_fingerprint ON vulnerabilities(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_logs_scan ON scan_logs(scan_id);
	CREATE INDEX IF NOT EXISTS idx_results_scan ON adapter_results(scan_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Scans
// =============================================================================

const scanColumns = `id, account_id, tier, target_url, scan_type, adapters, options,
	status, priority, error_message, retry_of, created_at, started_at, completed_at`

func (s *SQLite) CreateScan(ctx context.Context, scan *core.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters, err := json.Marshal(scan.Adapters)
	if err != nil {
		return scanerrors.E(scanerrors.KindInvalidInput, "store.CreateScan", "encode adapters", err)
	}
	options, err := json.Marshal(scan.Options)
	if err != nil {
		return scanerrors.E(scanerrors.KindInvalidInput, "store.CreateScan", "encode options", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO scans (`+scanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ID, scan.AccountID, string(scan.Tier), scan.TargetURL, string(scan.ScanType),
		string(adapters), string(options), string(scan.Status), int(scan.Priority),
		scan.ErrorMessage, scan.RetryOf, toUnix(scan.CreatedAt),
		toNullUnix(scan.StartedAt), toNullUnix(scan.CompletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return scanerrors.E(scanerrors.KindConflict, "store.CreateScan", "scan already exists: "+scan.ID)
		}
		return scanerrors.Wrap(err, "store.CreateScan")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*core.Scan, error) {
	var (
		scan                   core.Scan
		tier, scanType, status string
		adapters, options      sql.NullString
		priority               int
		createdAt              int64
		startedAt, completedAt sql.NullInt64
	)
	err := row.Scan(&scan.ID, &scan.AccountID, &tier, &scan.TargetURL, &scanType,
		&adapters, &options, &status, &priority, &scan.ErrorMessage, &scan.RetryOf,
		&createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	scan.Tier = core.Tier(tier)
	scan.ScanType = core.ScanType(scanType)
	scan.Status = core.ScanStatus(status)
	scan.Priority = core.Priority(priority)
	scan.CreatedAt = fromUnix(createdAt)
	scan.StartedAt = fromNullUnix(startedAt)
	scan.CompletedAt = fromNullUnix(completedAt)
	if adapters.Valid && adapters.String != "" {
		_ = json.Unmarshal([]byte(adapters.String), &scan.Adapters)
	}
	if options.Valid && options.String != "" {
		_ = json.Unmarshal([]byte(options.String), &scan.Options)
	}
	return &scan, nil
}

func (s *SQLite) GetScan(ctx context.Context, id string) (*core.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getScan(ctx, id, "store.GetScan")
}

func (s *SQLite) getScan(ctx context.Context, id, op string) (*core.Scan, error) {
	scan, err := scanRow(s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(op, id)
	}
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	return scan, nil
}

func (s *SQLite) ListScans(ctx context.Context, filter ListFilter) ([]*core.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, toUnix(filter.CreatedBefore))
	}
	if !filter.StartedBefore.IsZero() {
		where = append(where, "started_at IS NOT NULL AND started_at < ?")
		args = append(args, toUnix(filter.StartedBefore))
	}

	query := `SELECT ` + scanColumns + ` FROM scans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, scanerrors.Wrap(err, "store.ListScans")
	}
	defer rows.Close()

	var out []*core.Scan
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, scanerrors.Wrap(err, "store.ListScans")
		}
		out = append(out, scan)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteScan(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
	if err != nil {
		return scanerrors.Wrap(err, "store.DeleteScan")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("store.DeleteScan", id)
	}
	return nil
}

func (s *SQLite) SetScanStatus(ctx context.Context, id string, status core.ScanStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scan, err := s.getScan(ctx, id, "store.SetScanStatus")
	if err != nil {
		return err
	}
	stampStatus(scan, status, errorMessage, s.now())
	return s.updateStatus(ctx, scan)
}

func (s *SQLite) TransitionScan(ctx context.Context, id string, from []core.ScanStatus, to core.ScanStatus, errorMessage string) (*core.Scan, error) {
	const op = "store.TransitionScan"
	s.mu.Lock()
	defer s.mu.Unlock()

	scan, err := s.getScan(ctx, id, op)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, scan.Status) {
		return nil, conflict(op, id, scan.Status, to)
	}
	prev := scan.Status
	stampStatus(scan, to, errorMessage, s.now())

	// The status guard in the WHERE clause holds across processes sharing
	// the database file; the mutex only covers this one.
	res, err := s.db.ExecContext(ctx, `UPDATE scans
		SET status = ?, error_message = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(scan.Status), scan.ErrorMessage,
		toNullUnix(scan.StartedAt), toNullUnix(scan.CompletedAt), scan.ID, string(prev))
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, scanerrors.Wrap(err, op)
	} else if n == 0 {
		current, err := s.getScan(ctx, id, op)
		if err != nil {
			return nil, err
		}
		return nil, conflict(op, id, current.Status, to)
	}
	return scan, nil
}

func (s *SQLite) updateStatus(ctx context.Context, scan *core.Scan) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scans
		SET status = ?, error_message = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(scan.Status), scan.ErrorMessage,
		toNullUnix(scan.StartedAt), toNullUnix(scan.CompletedAt), scan.ID)
	if err != nil {
		return scanerrors.Wrap(err, "store.updateStatus")
	}
	return nil
}

func (s *SQLite) CountScansSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scans WHERE account_id = ? AND created_at >= ?`,
		accountID, toUnix(since)).Scan(&n)
	if err != nil {
		return 0, scanerrors.Wrap(err, "store.CountScansSince")
	}
	return n, nil
}

// =============================================================================
// Findings and logs
// =============================================================================

func (s *SQLite) PersistVulnerability(ctx context.Context, scanID string, v core.Vulnerability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cvss sql.NullFloat64
	if v.CVSSScore != nil {
		cvss = sql.NullFloat64{Float64: *v.CVSSScore, Valid: true}
	}
	ts := v.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO vulnerabilities (
			id, scan_id, seq, fingerprint, title, description, severity, cve_id,
			cvss_score, scanner_name, payload, location, evidence, created_at)
		SELECT ?, id, (SELECT COUNT(*) FROM vulnerabilities WHERE scan_id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		FROM scans WHERE id = ?`,
		uuid.New().String(), scanID, v.Fingerprint(), v.Title, v.Description,
		string(v.Severity), v.CVEID, cvss, v.ScannerName, v.Payload, v.Location,
		v.Evidence, toUnix(ts), scanID)
	if err != nil {
		return scanerrors.Wrap(err, "store.PersistVulnerability")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("store.PersistVulnerability", scanID)
	}
	return nil
}

func (s *SQLite) Vulnerabilities(ctx context.Context, scanID string) ([]core.Vulnerability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT title, description, severity, cve_id,
			cvss_score, scanner_name, payload, location, evidence, created_at
		FROM vulnerabilities WHERE scan_id = ? ORDER BY seq`, scanID)
	if err != nil {
		return nil, scanerrors.Wrap(err, "store.Vulnerabilities")
	}
	defer rows.Close()

	var out []core.Vulnerability
	for rows.Next() {
		var (
			v       core.Vulnerability
			sev     string
			cvss    sql.NullFloat64
			created int64
		)
		if err := rows.Scan(&v.Title, &v.Description, &sev, &v.CVEID, &cvss,
			&v.ScannerName, &v.Payload, &v.Location, &v.Evidence, &created); err != nil {
			return nil, scanerrors.Wrap(err, "store.Vulnerabilities")
		}
		v.Severity = severity.Level(sev)
		if cvss.Valid {
			score := cvss.Float64
			v.CVSSScore = &score
		}
		v.Timestamp = fromUnix(created)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendScanLog(ctx context.Context, scanID, message string, level core.LogLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO scan_logs (scan_id, message, level, created_at)
		SELECT id, ?, ?, ? FROM scans WHERE id = ?`,
		message, string(level), toUnix(s.now()), scanID)
	if err != nil {
		return scanerrors.Wrap(err, "store.AppendScanLog")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("store.AppendScanLog", scanID)
	}
	return nil
}

func (s *SQLite) Logs(ctx context.Context, scanID string) ([]core.ScanLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT message, level, created_at FROM scan_logs WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, scanerrors.Wrap(err, "store.Logs")
	}
	defer rows.Close()

	var out []core.ScanLogEntry
	for rows.Next() {
		var (
			e       = core.ScanLogEntry{ScanID: scanID}
			level   string
			created int64
		)
		if err := rows.Scan(&e.Message, &level, &created); err != nil {
			return nil, scanerrors.Wrap(err, "store.Logs")
		}
		e.Level = core.LogLevel(level)
		e.Timestamp = fromUnix(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// Adapter results
// =============================================================================

func (s *SQLite) SaveAdapterResult(ctx context.Context, r *AdapterResult) error {
	const op = "store.SaveAdapterResult"
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return scanerrors.E(scanerrors.KindInvalidInput, op, "encode summary", err)
	}
	scanLog, err := json.Marshal(r.ScanLog)
	if err != nil {
		return scanerrors.E(scanerrors.KindInvalidInput, op, "encode scan log", err)
	}
	blob, algo, err := s.codec.Encode(r.RawOutput)
	if err != nil {
		return scanerrors.E(scanerrors.KindInternal, op, "compress raw output", err)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO adapter_results (
			scan_id, adapter, status, error_message, start_time, end_time,
			summary, scan_log, raw_output, raw_algo, raw_size)
		SELECT id, ?, ?, ?, ?, ?, ?, ?, ?, ?, ? FROM scans WHERE id = ?`,
		r.Adapter, string(r.Status), r.ErrorMessage, toUnix(r.StartTime), toNullUnix(r.EndTime),
		string(summary), string(scanLog), blob, string(algo), len(r.RawOutput), r.ScanID)
	if err != nil {
		return scanerrors.Wrap(err, op)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op, r.ScanID)
	}
	return nil
}

func (s *SQLite) AdapterResults(ctx context.Context, scanID string) ([]*AdapterResult, error) {
	const op = "store.AdapterResults"
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT adapter, status, error_message, start_time,
			end_time, summary, scan_log, raw_output, raw_algo
		FROM adapter_results WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	defer rows.Close()

	var out []*AdapterResult
	for rows.Next() {
		var (
			r                = &AdapterResult{ScanID: scanID}
			status, algo     string
			start            int64
			end              sql.NullInt64
			summary, scanLog sql.NullString
			blob             []byte
		)
		if err := rows.Scan(&r.Adapter, &status, &r.ErrorMessage, &start, &end,
			&summary, &scanLog, &blob, &algo); err != nil {
			return nil, scanerrors.Wrap(err, op)
		}
		r.Status = core.ResultStatus(status)
		r.StartTime = fromUnix(start)
		r.EndTime = fromNullUnix(end)
		if summary.Valid && summary.String != "null" {
			r.Summary = &core.Summary{}
			if err := json.Unmarshal([]byte(summary.String), r.Summary); err != nil {
				return nil, scanerrors.E(scanerrors.KindInternal, op, "decode summary", err)
			}
		}
		if scanLog.Valid {
			_ = json.Unmarshal([]byte(scanLog.String), &r.ScanLog)
		}
		if len(blob) > 0 {
			raw, err := s.codec.Decode(blob, compress.Algorithm(algo))
			if err != nil {
				return nil, scanerrors.E(scanerrors.KindInternal, op, "decompress raw output", err)
			}
			r.RawOutput = raw
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

var _ Repository = (*SQLite)(nil)
