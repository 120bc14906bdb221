/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Durable record store for a single-node deployment. Holds the scheduling
  side of every invite, the audit trail, and optionally a local busy calendar
  for hosts without an external one.

INTERFACES IMPLEMENTED:
  invite.RecordStore: Invite rows and the conditional booking write
  invite.AuditLog:    Append-only redemption trail
  invite.BusySource:  Locally maintained busy intervals

CONDITIONAL WRITE:
  CommitBooking runs in one transaction:
  - row already redeemed             -> invite.ErrAlreadyBooked
  - another booking of the host overlaps -> invite.ErrHostSlotTaken
  - otherwise upsert with redeemed = 1
  SQLite allows a single writer, so the checks and the write cannot
  interleave with another CommitBooking.

KEY TABLES:
  invite_records: One row per invite id (mirror of the ledger's redeemed flag)
  host_busy:      Busy intervals per host
  audit_log:      Append-only, ULID ids

TIME STORAGE:
  Slot bounds are unix seconds (INTEGER) so overlap checks are plain
  comparisons. Bookkeeping timestamps are RFC3339 text.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/vibehouse.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  records := invite.NewRecords(store, 5*time.Second)

SEE ALSO:
  - invite/records.go: Interface definitions
  - store/memory: In-memory implementation for tests
  - store/postgres: Multi-node implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
)

// Store implements the record, audit and busy interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: is per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Invite records (scheduling data + mirror of the ledger's redeemed flag)
	CREATE TABLE IF NOT EXISTS invite_records (
		invite_id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		recipient TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		contact_email TEXT,
		scheduled_at INTEGER,
		scheduled_end INTEGER,
		external_event_ref TEXT,
		join_url TEXT,
		redeemed INTEGER NOT NULL DEFAULT 0,
		redeemed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Host bookings (availability hot path and commit-time overlap check)
	CREATE INDEX IF NOT EXISTS idx_invite_records_host_booked
		ON invite_records(host, scheduled_at)
		WHERE redeemed = 1;

	CREATE INDEX IF NOT EXISTS idx_invite_records_recipient
		ON invite_records(recipient);

	CREATE INDEX IF NOT EXISTS idx_invite_records_host
		ON invite_records(host);

	-- Local busy calendar
	CREATE TABLE IF NOT EXISTS host_busy (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_host_busy_host_start
		ON host_busy(host, start_at);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		invite_id TEXT NOT NULL,
		actor TEXT,
		action TEXT NOT NULL,
		detail TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_invite
		ON audit_log(invite_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (invite.RecordStore interface)
// =============================================================================

const recordColumns = `
	invite_id, host, recipient, topic, contact_email, scheduled_at, scheduled_end,
	external_event_ref, join_url, redeemed, redeemed_at, created_at, updated_at`

// Get returns invite.ErrRecordNotFound when no row exists.
func (s *Store) Get(ctx context.Context, inviteID string) (invite.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM invite_records WHERE invite_id = ?`, inviteID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return invite.Record{}, invite.ErrRecordNotFound
	}
	if err != nil {
		return invite.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// Insert creates the row written at mint time.
func (s *Store) Insert(ctx context.Context, rec invite.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invite_records (invite_id, host, recipient, topic, contact_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.InviteID, rec.Host, rec.Recipient, rec.Topic, nullString(rec.ContactEmail), now, now)
	if isUniqueConstraintError(err) {
		return invite.ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// CommitBooking is the conditional write. See the package comment.
func (s *Store) CommitBooking(ctx context.Context, b invite.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var redeemed bool
	err = tx.QueryRowContext(ctx,
		`SELECT redeemed FROM invite_records WHERE invite_id = ?`, b.InviteID).Scan(&redeemed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read record: %w", err)
	case redeemed:
		return invite.ErrAlreadyBooked
	}

	var clash int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invite_records
		WHERE host = ? AND redeemed = 1 AND invite_id <> ?
		  AND scheduled_at < ? AND scheduled_end > ?
	`, b.Host, b.InviteID, b.Slot.End.Unix(), b.Slot.Start.Unix()).Scan(&clash)
	if err != nil {
		return fmt.Errorf("failed to check host bookings: %w", err)
	}
	if clash > 0 {
		return invite.ErrHostSlotTaken
	}

	at := b.At.UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO invite_records
		(invite_id, host, recipient, topic, contact_email, scheduled_at, scheduled_end,
		 external_event_ref, join_url, redeemed, redeemed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(invite_id) DO UPDATE SET
			host = excluded.host,
			recipient = excluded.recipient,
			topic = excluded.topic,
			contact_email = excluded.contact_email,
			scheduled_at = excluded.scheduled_at,
			scheduled_end = excluded.scheduled_end,
			external_event_ref = excluded.external_event_ref,
			join_url = excluded.join_url,
			redeemed = 1,
			redeemed_at = excluded.redeemed_at,
			updated_at = excluded.updated_at
		WHERE invite_records.redeemed = 0
	`,
		b.InviteID, b.Host, b.Recipient, b.Topic, nullString(b.ContactEmail),
		b.Slot.Start.Unix(), b.Slot.End.Unix(),
		nullString(b.ExternalEventRef), nullString(b.JoinURL),
		at, at, at,
	)
	if err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	return tx.Commit()
}

// BookedIntervals returns the host's committed slots intersecting [from, to).
func (s *Store) BookedIntervals(ctx context.Context, host string, from, to time.Time) ([]generic.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT scheduled_at, scheduled_end FROM invite_records
		WHERE host = ? AND redeemed = 1 AND scheduled_at IS NOT NULL
		  AND scheduled_at < ? AND scheduled_end > ?
		ORDER BY scheduled_at
	`, host, to.Unix(), from.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	return scanIntervals(rows)
}

func (s *Store) ListByRecipient(ctx context.Context, recipient string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryIDs(ctx,
		`SELECT invite_id FROM invite_records WHERE recipient = ? ORDER BY invite_id`, recipient)
}

func (s *Store) ListByHost(ctx context.Context, host string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryIDs(ctx,
		`SELECT invite_id FROM invite_records WHERE host = ? ORDER BY invite_id`, host)
}

func (s *Store) ListRedeemed(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryIDs(ctx,
		`SELECT invite_id FROM invite_records WHERE redeemed = 1 ORDER BY invite_id`)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (invite.Record, error) {
	var (
		rec                    invite.Record
		email, ref, joinURL    sql.NullString
		scheduledAt, scheduled sql.NullInt64
		redeemedAt             sql.NullString
		createdAt, updatedAt   string
	)
	err := row.Scan(
		&rec.InviteID, &rec.Host, &rec.Recipient, &rec.Topic, &email,
		&scheduledAt, &scheduled, &ref, &joinURL,
		&rec.Redeemed, &redeemedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return invite.Record{}, err
	}

	rec.ContactEmail = email.String
	rec.ExternalEventRef = ref.String
	rec.JoinURL = joinURL.String
	if scheduledAt.Valid {
		t := time.Unix(scheduledAt.Int64, 0).UTC()
		rec.ScheduledAt = &t
	}
	if scheduled.Valid {
		t := time.Unix(scheduled.Int64, 0).UTC()
		rec.ScheduledEnd = &t
	}
	if redeemedAt.Valid {
		t, _ := time.Parse(time.RFC3339, redeemedAt.String)
		rec.RedeemedAt = &t
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return rec, nil
}

func scanIntervals(rows *sql.Rows) ([]generic.Interval, error) {
	defer rows.Close()

	var out []generic.Interval
	for rows.Next() {
		var start, end int64
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		out = append(out, generic.Interval{
			Start: time.Unix(start, 0).UTC(),
			End:   time.Unix(end, 0).UTC(),
		})
	}
	return out, rows.Err()
}

// =============================================================================
// BUSY CALENDAR (invite.BusySource interface)
// =============================================================================

// AddBusy marks [iv.Start, iv.End) busy for host.
func (s *Store) AddBusy(ctx context.Context, host string, iv generic.Interval) error {
	if !iv.Valid() {
		return &generic.InvalidParameterError{Field: "interval", Reason: "end must be after start"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO host_busy (host, start_at, end_at) VALUES (?, ?, ?)`,
		invite.NormalizeIdentity(host), iv.Start.Unix(), iv.End.Unix())
	if err != nil {
		return fmt.Errorf("failed to add busy interval: %w", err)
	}
	return nil
}

func (s *Store) BusyIntervals(ctx context.Context, host string, start, end time.Time) ([]generic.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT start_at, end_at FROM host_busy
		WHERE host = ? AND start_at < ? AND end_at > ?
		ORDER BY start_at
	`, host, end.Unix(), start.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query busy intervals: %w", err)
	}
	return scanIntervals(rows)
}

// =============================================================================
// AUDIT LOG (invite.AuditLog interface)
// =============================================================================

func (s *Store) Append(ctx context.Context, e invite.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, invite_id, actor, action, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.InviteID, nullString(e.Actor), string(e.Action), nullString(e.Detail),
		e.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns entries for inviteID, or every entry when inviteID is empty,
// oldest first.
func (s *Store) Query(ctx context.Context, inviteID string) ([]invite.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, invite_id, actor, action, detail, at FROM audit_log`
	var args []any
	if inviteID != "" {
		query += ` WHERE invite_id = ?`
		args = append(args, inviteID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []invite.AuditEntry
	for rows.Next() {
		var (
			e             invite.AuditEntry
			actor, detail sql.NullString
			action, at    string
		)
		if err := rows.Scan(&e.ID, &e.InviteID, &actor, &action, &detail, &at); err != nil {
			return nil, err
		}
		e.Actor = actor.String
		e.Detail = detail.String
		e.Action = invite.AuditAction(action)
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// Reset clears all data. For scenario loading.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"invite_records", "host_busy", "audit_log"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
