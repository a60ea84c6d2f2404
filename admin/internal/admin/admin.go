// Package admin implements the operator commands behind the admin
// CLI: user provisioning, identity rotation and schema maintenance on
// the reporting database.
package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// lastUpdateFormat matches the metadata timestamp written by the
// ingestion pipeline.
const lastUpdateFormat = "2006-01-02 15:04:05"

type Admin struct {
	log *slog.Logger
	db  *sql.DB
}

func New(log *slog.Logger, db *sql.DB) *Admin {
	return &Admin{log: log, db: db}
}

// AddUser inserts a user with a freshly generated access UUID and
// returns that UUID. Teams are stored as a JSON array.
func (a *Admin) AddUser(ctx context.Context, login, name string, teams []string, position, sponsor string) (string, error) {
	if login == "" {
		return "", errors.New("login is required")
	}
	if teams == nil {
		teams = []string{}
	}
	rawTeams, err := json.Marshal(teams)
	if err != nil {
		return "", fmt.Errorf("failed to encode teams: %w", err)
	}

	id := uuid.NewString()
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO user (login, name, teams, position, photo_url, uuid, sponsor)
		VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		login, nullable(name), string(rawTeams), nullable(position), id, nullable(sponsor))
	if err != nil {
		return "", fmt.Errorf("failed to insert user %s: %w", login, err)
	}

	a.log.Info("admin: user added", "login", login, "teams", teams)
	return id, nil
}

// ResetUUID rotates the access UUID of an existing user and returns
// the new value.
func (a *Admin) ResetUUID(ctx context.Context, login string) (string, error) {
	id := uuid.NewString()
	res, err := a.db.ExecContext(ctx,
		"UPDATE user SET uuid = ? WHERE login = ?", id, login)
	if err != nil {
		return "", fmt.Errorf("failed to update user %s: %w", login, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("no user with login %s", login)
	}

	a.log.Info("admin: uuid rotated", "login", login)
	return id, nil
}

// UserSummary is one row of the user listing.
type UserSummary struct {
	Login   string
	Name    string
	Teams   []string
	Sponsor string
}

// ListUsers returns all users ordered by login.
func (a *Admin) ListUsers(ctx context.Context) ([]UserSummary, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT login, name, teams, sponsor FROM user ORDER BY login")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []UserSummary
	for rows.Next() {
		var (
			u             UserSummary
			name, sponsor sql.NullString
			rawTeams      []byte
		)
		if err := rows.Scan(&u.Login, &name, &rawTeams, &sponsor); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Name = name.String
		u.Sponsor = sponsor.String
		if err := json.Unmarshal(rawTeams, &u.Teams); err != nil {
			return nil, fmt.Errorf("user %s: invalid teams: %w", u.Login, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetLastUpdate writes the snapshot freshness marker, for repair after
// a botched ingestion run.
func (a *Admin) SetLastUpdate(ctx context.Context, t time.Time) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ('jobs', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		t.UTC().Format(lastUpdateFormat))
	if err != nil {
		return fmt.Errorf("failed to set last update: %w", err)
	}
	a.log.Info("admin: last update set", "time", t.UTC().Format(lastUpdateFormat))
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
