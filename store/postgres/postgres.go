// Package postgres implements the invite record store and audit log over
// PostgreSQL for multi-node deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/dcjanio/vibehouse/generic"
	"github.com/dcjanio/vibehouse/invite"
)

// Store implements invite.RecordStore and invite.AuditLog.
//
// Design notes:
// - The pgx pool is owned by the caller; the store never closes it.
// - Schema and table identifiers are quoted with pgx.Identifier.
// - CommitBooking serializes bookings of one host with a transaction-scoped
//   advisory lock, then writes only if the mirror flag is still false.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures the store.
type StoreOption func(*Store) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the tables (default "vibehouse").
func WithSchema(schema string) StoreOption {
	return func(s *Store) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("postgres: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("postgres: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func New(pool *pgxpool.Pool, opts ...StoreOption) (*Store, error) {
	st := &Store{pool: pool, schema: "vibehouse"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("postgres: nil pool")
	}
	return st, nil
}

// NewPool parses url, connects, and checks a connection can be acquired
// within pingTimeout.
func NewPool(ctx context.Context, url string, pingTimeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	conn, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	conn.Release()
	return pool, nil
}

func (s *Store) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// Migrate creates the schema and tables if missing.
func (s *Store) Migrate(ctx context.Context) error {
	records := s.table("invite_records")
	audit := s.table("audit_log")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  invite_id TEXT PRIMARY KEY,
  host TEXT NOT NULL,
  recipient TEXT NOT NULL,
  topic TEXT NOT NULL DEFAULT '',
  contact_email TEXT NULL,
  scheduled_at TIMESTAMPTZ NULL,
  scheduled_end TIMESTAMPTZ NULL,
  external_event_ref TEXT NULL,
  join_url TEXT NULL,
  redeemed BOOLEAN NOT NULL DEFAULT FALSE,
  redeemed_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_invite_records_host_booked
  ON %[2]s (host, scheduled_at) WHERE redeemed;
CREATE INDEX IF NOT EXISTS ix_invite_records_recipient
  ON %[2]s (recipient);
CREATE INDEX IF NOT EXISTS ix_invite_records_host
  ON %[2]s (host);

CREATE TABLE IF NOT EXISTS %[3]s (
  id TEXT PRIMARY KEY,
  invite_id TEXT NOT NULL,
  actor TEXT NULL,
  action TEXT NOT NULL,
  detail TEXT NULL,
  at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_audit_log_invite ON %[3]s (invite_id, id);
`, pgx.Identifier{s.schema}.Sanitize(), records, audit)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// =============================================================================
// RECORD STORE
// =============================================================================

const recordColumns = `invite_id, host, recipient, topic, contact_email, scheduled_at, scheduled_end,
       external_event_ref, join_url, redeemed, redeemed_at, created_at, updated_at`

func (s *Store) Get(ctx context.Context, inviteID string) (invite.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table("invite_records")+` WHERE invite_id = $1`, inviteID)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return invite.Record{}, invite.ErrRecordNotFound
	}
	if err != nil {
		return invite.Record{}, fmt.Errorf("postgres: get record: %w", err)
	}
	return rec, nil
}

func (s *Store) Insert(ctx context.Context, rec invite.Record) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("invite_records")+`
		   (invite_id, host, recipient, topic, contact_email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		rec.InviteID, rec.Host, rec.Recipient, rec.Topic, nullIfEmpty(rec.ContactEmail), now)
	if isUniqueViolation(err) {
		return invite.ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("postgres: insert record: %w", err)
	}
	return nil
}

// CommitBooking takes pg_advisory_xact_lock on the host so overlap checks
// of concurrent bookings for one host run one at a time, then upserts only
// while the mirror flag is false.
func (s *Store) CommitBooking(ctx context.Context, b invite.Booking) error {
	records := s.table("invite_records")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, b.Host); err != nil {
		return fmt.Errorf("postgres: lock host: %w", err)
	}

	var redeemed bool
	err = tx.QueryRow(ctx,
		`SELECT redeemed FROM `+records+` WHERE invite_id = $1`, b.InviteID).Scan(&redeemed)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("postgres: read record: %w", err)
	case redeemed:
		return invite.ErrAlreadyBooked
	}

	var clash bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM `+records+`
		    WHERE host = $1 AND redeemed AND invite_id <> $2
		      AND scheduled_at < $4 AND scheduled_end > $3)`,
		b.Host, b.InviteID, b.Slot.Start, b.Slot.End).Scan(&clash)
	if err != nil {
		return fmt.Errorf("postgres: check host bookings: %w", err)
	}
	if clash {
		return invite.ErrHostSlotTaken
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO `+records+` AS r
		   (invite_id, host, recipient, topic, contact_email, scheduled_at, scheduled_end,
		    external_event_ref, join_url, redeemed, redeemed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $10, $10)
		 ON CONFLICT (invite_id) DO UPDATE SET
		   host = EXCLUDED.host,
		   recipient = EXCLUDED.recipient,
		   topic = EXCLUDED.topic,
		   contact_email = EXCLUDED.contact_email,
		   scheduled_at = EXCLUDED.scheduled_at,
		   scheduled_end = EXCLUDED.scheduled_end,
		   external_event_ref = EXCLUDED.external_event_ref,
		   join_url = EXCLUDED.join_url,
		   redeemed = TRUE,
		   redeemed_at = EXCLUDED.redeemed_at,
		   updated_at = EXCLUDED.updated_at
		 WHERE NOT r.redeemed`,
		b.InviteID, b.Host, b.Recipient, b.Topic, nullIfEmpty(b.ContactEmail),
		b.Slot.Start, b.Slot.End, nullIfEmpty(b.ExternalEventRef), nullIfEmpty(b.JoinURL),
		b.At.UTC())
	if err != nil {
		return fmt.Errorf("postgres: commit booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return invite.ErrAlreadyBooked
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) BookedIntervals(ctx context.Context, host string, from, to time.Time) ([]generic.Interval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scheduled_at, scheduled_end FROM `+s.table("invite_records")+`
		  WHERE host = $1 AND redeemed AND scheduled_at IS NOT NULL
		    AND scheduled_at < $3 AND scheduled_end > $2
		  ORDER BY scheduled_at`,
		host, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: booked intervals: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (generic.Interval, error) {
		var iv generic.Interval
		err := row.Scan(&iv.Start, &iv.End)
		iv.Start, iv.End = iv.Start.UTC(), iv.End.UTC()
		return iv, err
	})
}

func (s *Store) ListByRecipient(ctx context.Context, recipient string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT invite_id FROM `+s.table("invite_records")+` WHERE recipient = $1 ORDER BY invite_id`,
		recipient)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by recipient: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) ListByHost(ctx context.Context, host string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT invite_id FROM `+s.table("invite_records")+` WHERE host = $1 ORDER BY invite_id`,
		host)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by host: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) ListRedeemed(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT invite_id FROM `+s.table("invite_records")+` WHERE redeemed ORDER BY invite_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list redeemed: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanRecord(row pgx.Row) (invite.Record, error) {
	var (
		rec                 invite.Record
		email, ref, joinURL *string
	)
	err := row.Scan(
		&rec.InviteID, &rec.Host, &rec.Recipient, &rec.Topic, &email,
		&rec.ScheduledAt, &rec.ScheduledEnd, &ref, &joinURL,
		&rec.Redeemed, &rec.RedeemedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return invite.Record{}, err
	}
	rec.ContactEmail = deref(email)
	rec.ExternalEventRef = deref(ref)
	rec.JoinURL = deref(joinURL)
	rec.ScheduledAt = utcPtr(rec.ScheduledAt)
	rec.ScheduledEnd = utcPtr(rec.ScheduledEnd)
	rec.RedeemedAt = utcPtr(rec.RedeemedAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, e invite.AuditEntry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("audit_log")+` (id, invite_id, actor, action, detail, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.InviteID, nullIfEmpty(e.Actor), string(e.Action), nullIfEmpty(e.Detail), e.At.UTC())
	if err != nil {
		return fmt.Errorf("postgres: append audit: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, inviteID string) ([]invite.AuditEntry, error) {
	query := `SELECT id, invite_id, actor, action, detail, at FROM ` + s.table("audit_log")
	var args []any
	if inviteID != "" {
		query += ` WHERE invite_id = $1`
		args = append(args, inviteID)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (invite.AuditEntry, error) {
		var (
			e             invite.AuditEntry
			actor, detail *string
			action        string
		)
		if err := row.Scan(&e.ID, &e.InviteID, &actor, &action, &detail, &e.At); err != nil {
			return e, err
		}
		e.Actor = deref(actor)
		e.Detail = deref(detail)
		e.Action = invite.AuditAction(action)
		e.At = e.At.UTC()
		return e, nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
