package sqlite

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/susom/redcap-entity/pkg/types"
)

// seedFile is the YAML layout accepted by Directory.Seed.
type seedFile struct {
	Users    []User        `yaml:"users"`
	Projects []seedProject `yaml:"projects"`
}

type seedProject struct {
	ID      string   `yaml:"project_id"`
	Title   string   `yaml:"title"`
	Users   []string `yaml:"users"`
	Records []string `yaml:"records"`
}

// Seed loads users, projects, grants and records from a YAML file in one
// transaction. Existing entries are updated, so seeding twice is harmless.
// It returns the number of users and projects written.
func (d *Directory) Seed(ctx context.Context, path string) (users, projects int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	db, err := d.db()
	if err != nil {
		return 0, 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback()

	for _, u := range f.Users {
		if u.Username == "" {
			return 0, 0, fmt.Errorf("%w: user without username in %s", types.ErrInvalidIdentifier, path)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO users(username, email, super_user, account_manager) VALUES (?,?,?,?)`,
			u.Username, nullable(u.Email), u.SuperUser, u.AccountManager)
		if err != nil {
			return 0, 0, fmt.Errorf("seeding user %s: %w", u.Username, err)
		}
	}

	for _, p := range f.Projects {
		if p.ID == "" {
			return 0, 0, fmt.Errorf("%w: project without project_id in %s", types.ErrInvalidIdentifier, path)
		}
		title := p.Title
		if title == "" {
			title = p.ID
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO projects(project_id, title) VALUES (?,?) ON CONFLICT(project_id) DO UPDATE SET title=excluded.title`,
			p.ID, title)
		if err != nil {
			return 0, 0, fmt.Errorf("seeding project %s: %w", p.ID, err)
		}
		for _, username := range p.Users {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO project_users(project_id, username) VALUES (?,?)`, p.ID, username); err != nil {
				return 0, 0, fmt.Errorf("granting %s on project %s: %w", username, p.ID, err)
			}
		}
		for _, record := range p.Records {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO records(project_id, record_id) VALUES (?,?)`, p.ID, record); err != nil {
				return 0, 0, fmt.Errorf("seeding record %s of project %s: %w", record, p.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing seed transaction: %w", err)
	}
	d.backend.logger.Info("directory seeded", "file", path, "users", len(f.Users), "projects", len(f.Projects))
	return len(f.Users), len(f.Projects), nil
}
