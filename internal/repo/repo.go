package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"credchain/internal/address"
	"credchain/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStale means a compare-and-swap update matched no row because the
	// stored version moved on.
	ErrStale = errors.New("stale version")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// TimeLayout is the stored timestamp form. It is fixed width so that text
// ordering in SQL matches chronological ordering down to the nanosecond.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in TimeLayout, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func formatTime(t time.Time) string {
	return FormatTime(t)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseAddr(s string) (address.Address, error) {
	a, err := address.Parse(s)
	if err != nil {
		return address.Address{}, fmt.Errorf("stored address: %w", err)
	}
	return a, nil
}

// toInt64 stores uint64 amounts and nonces bit-for-bit in SQLite INTEGER columns.
func toInt64(v uint64) int64 { return int64(v) }

func fromInt64(v int64) uint64 { return uint64(v) }

// expectOne maps a zero-row update onto ErrStale.
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// IncrementCounter bumps a named counter and returns the new value.
func (r Repo) IncrementCounter(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO counters(name, value) VALUES (?, 1)
ON CONFLICT(name) DO UPDATE SET value = value + 1`, name); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name=?`, name).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// Counter names.
const (
	CounterBadges       = "badges_minted"
	CounterCertificates = "certificates_issued"
	CounterJobs         = "jobs_posted"
	CounterApplications = "applications_submitted"
	CounterContracts    = "contracts_created"
	CounterDisputes     = "disputes_opened"
)

func (r Repo) Stats(ctx context.Context) (domain.Stats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return domain.Stats{}, err
	}
	defer rows.Close()
	var s domain.Stats
	for rows.Next() {
		var name string
		var v int64
		if err := rows.Scan(&name, &v); err != nil {
			return domain.Stats{}, err
		}
		switch name {
		case CounterBadges:
			s.BadgesMinted = v
		case CounterCertificates:
			s.CertificatesIssued = v
		case CounterJobs:
			s.JobsPosted = v
		case CounterApplications:
			s.ApplicationsSubmitted = v
		case CounterContracts:
			s.ContractsCreated = v
		case CounterDisputes:
			s.DisputesOpened = v
		}
	}
	return s, rows.Err()
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}
