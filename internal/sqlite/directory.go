package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/susom/redcap-entity/pkg/entity"
	"github.com/susom/redcap-entity/pkg/types"
)

var (
	_ entity.Directory     = (*Directory)(nil)
	_ entity.AccessChecker = (*Directory)(nil)
)

// User is a host-system account.
type User struct {
	Username       string `json:"username" yaml:"username"`
	Email          string `json:"email,omitempty" yaml:"email,omitempty"`
	SuperUser      bool   `json:"super_user,omitempty" yaml:"super_user,omitempty"`
	AccountManager bool   `json:"account_manager,omitempty" yaml:"account_manager,omitempty"`
}

// Project is a host-system project.
type Project struct {
	ID    string `json:"project_id"`
	Title string `json:"title"`
}

// Directory answers existence and access questions from the directory
// tables.
type Directory struct {
	backend *Backend
}

func (d *Directory) db() (*sql.DB, error) {
	db, _, err := d.backend.conn()
	return db, err
}

func (d *Directory) exists(ctx context.Context, query string, args ...any) (bool, error) {
	db, err := d.db()
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UserExists reports whether username is a known account.
func (d *Directory) UserExists(ctx context.Context, username string) (bool, error) {
	return d.exists(ctx, `SELECT 1 FROM users WHERE username=?`, username)
}

// ProjectExists reports whether projectID is a known project.
func (d *Directory) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	return d.exists(ctx, `SELECT 1 FROM projects WHERE project_id=?`, projectID)
}

// RecordExists reports whether recordID exists within projectID.
func (d *Directory) RecordExists(ctx context.Context, projectID, recordID string) (bool, error) {
	return d.exists(ctx, `SELECT 1 FROM records WHERE project_id=? AND record_id=?`, projectID, recordID)
}

// HasProjectAccess reports whether actorID holds rights on projectID,
// either through a grant or as a super user or account manager.
func (d *Directory) HasProjectAccess(ctx context.Context, actorID, projectID string) (bool, error) {
	user, err := d.User(ctx, actorID)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if user.SuperUser || user.AccountManager {
		return true, nil
	}
	return d.exists(ctx, `SELECT 1 FROM project_users WHERE project_id=? AND username=?`, projectID, actorID)
}

// User returns the account named username.
func (d *Directory) User(ctx context.Context, username string) (User, error) {
	db, err := d.db()
	if err != nil {
		return User{}, err
	}
	var u User
	var email sql.NullString
	err = db.QueryRowContext(ctx,
		`SELECT username, email, super_user, account_manager FROM users WHERE username=?`, username,
	).Scan(&u.Username, &email, &u.SuperUser, &u.AccountManager)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("%w: user %s", types.ErrNotFound, username)
	}
	if err != nil {
		return User{}, err
	}
	u.Email = email.String
	return u, nil
}

// Scope builds the caller scope of username acting in projectID, carrying
// the account's privilege flags.
func (d *Directory) Scope(ctx context.Context, username, projectID string) (types.Scope, error) {
	scope := types.Scope{ActorID: username, ProjectID: projectID}
	if username == "" {
		return scope, nil
	}
	u, err := d.User(ctx, username)
	if err != nil {
		return types.Scope{}, err
	}
	scope.SuperUser = u.SuperUser
	scope.AccountManager = u.AccountManager
	return scope, nil
}

// AddUser creates or replaces an account.
func (d *Directory) AddUser(ctx context.Context, u User) error {
	if u.Username == "" {
		return fmt.Errorf("%w: empty username", types.ErrInvalidIdentifier)
	}
	db, err := d.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users(username, email, super_user, account_manager) VALUES (?,?,?,?)`,
		u.Username, nullable(u.Email), u.SuperUser, u.AccountManager)
	return err
}

// AddProject creates or renames a project.
func (d *Directory) AddProject(ctx context.Context, p Project) error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty project id", types.ErrInvalidIdentifier)
	}
	title := p.Title
	if title == "" {
		title = p.ID
	}
	db, err := d.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO projects(project_id, title) VALUES (?,?) ON CONFLICT(project_id) DO UPDATE SET title=excluded.title`,
		p.ID, title)
	return err
}

// Grant gives username rights on projectID.
func (d *Directory) Grant(ctx context.Context, projectID, username string) error {
	db, err := d.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT OR IGNORE INTO project_users(project_id, username) VALUES (?,?)`, projectID, username)
	return err
}

// Revoke removes username's rights on projectID.
func (d *Directory) Revoke(ctx context.Context, projectID, username string) error {
	db, err := d.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM project_users WHERE project_id=? AND username=?`, projectID, username)
	return err
}

// AddRecord registers recordID within projectID.
func (d *Directory) AddRecord(ctx context.Context, projectID, recordID string) error {
	db, err := d.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT OR IGNORE INTO records(project_id, record_id) VALUES (?,?)`, projectID, recordID)
	return err
}

// Users lists all accounts ordered by username.
func (d *Directory) Users(ctx context.Context) ([]User, error) {
	db, err := d.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT username, COALESCE(email,''), super_user, account_manager FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username, &u.Email, &u.SuperUser, &u.AccountManager); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Projects lists all projects ordered by id.
func (d *Directory) Projects(ctx context.Context) ([]Project, error) {
	db, err := d.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT project_id, title FROM projects ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Title); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
