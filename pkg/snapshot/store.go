package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // sqlite driver
)

// lastUpdateFormat is the layout of the metadata timestamp written by
// the ingestion pipeline.
const lastUpdateFormat = "2006-01-02 15:04:05"

var (
	// ErrUnknownIdentity is returned when no user matches an opaque
	// access identifier. Kept deliberately vague so callers cannot
	// distinguish mistyped from nonexistent identifiers.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrUnknownUser is returned when no user matches a login.
	ErrUnknownUser = errors.New("unknown user")

	// ErrNoReport is returned when no monthly report exists for a
	// user/month pair.
	ErrNoReport = errors.New("no report")
)

type StoreConfig struct {
	Logger *slog.Logger
	Path   string
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Path == "" {
		return errors.New("database path is required")
	}
	return nil
}

// Store reads usage snapshots, users and monthly reports from the
// sqlite reporting database. It never writes; concurrent queries are
// independent read transactions.
type Store struct {
	log *slog.Logger
	db  *sql.DB
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", cfg.Path, err)
	}
	// Single connection avoids sqlite "database is locked" errors.
	db.SetMaxOpenConns(1)

	return &Store{log: cfg.Logger, db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LastUpdate returns the wall-clock time of the most recent snapshot,
// used as the default stop marker when a query gives no explicit range.
func (s *Store) LastUpdate(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM metadata WHERE key = 'jobs'").Scan(&raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last update: %w", err)
	}
	t, err := time.ParseInLocation(lastUpdateFormat, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid last update %q: %w", raw, err)
	}
	return t, nil
}

// Buckets is a one-shot cursor over a bucket stream. A fresh call to
// StreamBuckets is required per query; the stream is not restartable.
type Buckets struct {
	rows *sql.Rows
	cur  Bucket
	err  error
}

// Next advances to the next bucket, returning false at the end of the
// stream or on error. A decode failure stops the stream; the caller
// must check Err and abandon the report rather than use partial
// rollups.
func (b *Buckets) Next() bool {
	if b.err != nil || !b.rows.Next() {
		return false
	}
	var (
		key       string
		usersData []byte
		jobsData  []byte
	)
	if err := b.rows.Scan(&key, &usersData, &jobsData); err != nil {
		b.err = fmt.Errorf("failed to scan usage row: %w", err)
		return false
	}
	cur, err := decodeBucket(key, usersData, jobsData)
	if err != nil {
		b.err = err
		return false
	}
	b.cur = cur
	return true
}

func (b *Buckets) Bucket() Bucket { return b.cur }

func (b *Buckets) Err() error {
	if b.err != nil {
		return b.err
	}
	return b.rows.Err()
}

func (b *Buckets) Close() error { return b.rows.Close() }

// StreamBuckets returns the buckets in [start, stop), ordered ascending
// by time.
func (s *Store) StreamBuckets(ctx context.Context, start, stop time.Time) (*Buckets, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, users_data, jobs_data
		FROM usage
		WHERE time >= ? AND time < ?
		ORDER BY time`,
		start.Format(KeyFormat), stop.Format(KeyFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	return &Buckets{rows: rows}, nil
}

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u                                 User
		name, position, photoURL, sponsor sql.NullString
		teams                             []byte
	)
	if err := row.Scan(&u.Login, &name, &teams, &position, &photoURL, &u.UUID, &sponsor); err != nil {
		return User{}, err
	}
	u.Name = name.String
	u.Position = position.String
	u.PhotoURL = photoURL.String
	u.Sponsor = sponsor.String
	var err error
	if u.Teams, err = decodeTeams(teams); err != nil {
		return User{}, fmt.Errorf("user %s: %w", u.Login, err)
	}
	return u, nil
}

const userColumns = "login, name, teams, position, photo_url, uuid, sponsor"

// Users returns all known users with their team memberships, read
// fresh per query.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM user")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserByUUID resolves an opaque access identifier to a user.
func (s *Store) UserByUUID(ctx context.Context, uuid string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM user WHERE uuid = ?", uuid)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUnknownIdentity
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// UserByLogin looks a user up by login, for signup requests.
func (s *Store) UserByLogin(ctx context.Context, login string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM user WHERE login = ?", login)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// ReportMonths lists the months for which a user has a precomputed
// report, ascending.
func (s *Store) ReportMonths(ctx context.Context, login string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT month FROM report WHERE login = ? ORDER BY month", login)
	if err != nil {
		return nil, fmt.Errorf("failed to query report months: %w", err)
	}
	defer rows.Close()

	var months []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan report month: %w", err)
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// MonthlyReport reads one precomputed monthly report document.
func (s *Store) MonthlyReport(ctx context.Context, login, month string) (MonthlyReport, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM report WHERE login = ? AND month = ?", login, month).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return MonthlyReport{}, ErrNoReport
	}
	if err != nil {
		return MonthlyReport{}, fmt.Errorf("failed to query report: %w", err)
	}
	return decodeMonthlyReport(login, month, raw)
}

// MonthlyReports reads the reports of several users for one month.
// Users without a report for that month are simply absent from the
// result.
func (s *Store) MonthlyReports(ctx context.Context, logins []string, month string) ([]MonthlyReport, error) {
	if len(logins) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(logins)+1)
	for _, l := range logins {
		args = append(args, l)
	}
	args = append(args, month)

	query := fmt.Sprintf(`
		SELECT login, data
		FROM report
		WHERE login IN (%s) AND month = ?`,
		strings.TrimSuffix(strings.Repeat("?,", len(logins)), ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []MonthlyReport
	for rows.Next() {
		var login string
		var raw []byte
		if err := rows.Scan(&login, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		r, err := decodeMonthlyReport(login, month, raw)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
