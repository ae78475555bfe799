package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID keys the Postgres advisory lock held while migrating.
const migrationLockID int64 = 0x7265656c73747231

// migration is one versioned schema change and its rollback
type migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// MigrationStatus reports whether a known migration has been applied
type MigrationStatus struct {
	Version   string
	Name      string
	AppliedAt *time.Time
}

// Migrator handles database migrations
type Migrator struct {
	pool   *pgxpool.Pool
	fsys   fs.FS
	logger *logrus.Entry
}

// NewMigrator creates a migrator over the embedded migrations
func NewMigrator(pool *pgxpool.Pool, logger *logrus.Entry) *Migrator {
	return &Migrator{pool: pool, fsys: migrationsFS, logger: logger.WithField("component", "migrator")}
}

// Up applies every pending migration in version order. Each migration runs
// in its own transaction together with its bookkeeping row.
func (m *Migrator) Up(ctx context.Context) error {
	plan, err := loadMigrations(m.fsys)
	if err != nil {
		return err
	}

	return m.locked(ctx, func(conn *pgxpool.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		pending := 0
		for _, mig := range plan {
			if _, ok := applied[mig.Version]; ok {
				continue
			}
			pending++

			log := m.logger.WithField("migration", mig.Name)
			log.Info("Applying migration")
			err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
				if _, err := tx.Exec(ctx, mig.Up); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
				return err
			})
			if err != nil {
				return fmt.Errorf("apply migration %s: %w", mig.Name, err)
			}
		}

		m.logger.WithField("applied", pending).Info("Database schema is up to date")
		return nil
	})
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down(ctx context.Context) error {
	plan, err := loadMigrations(m.fsys)
	if err != nil {
		return err
	}
	byVersion := make(map[string]migration, len(plan))
	for _, mig := range plan {
		byVersion[mig.Version] = mig
	}

	return m.locked(ctx, func(conn *pgxpool.Conn) error {
		var version string
		err := conn.QueryRow(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			m.logger.Info("No migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("find last migration: %w", err)
		}

		mig, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("applied migration %s has no file", version)
		}

		m.logger.WithField("migration", mig.Name).Info("Rolling back migration")
		err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.Down); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("roll back migration %s: %w", mig.Name, err)
		}
		return nil
	})
}

// Status lists every known migration with its applied time, if any
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	plan, err := loadMigrations(m.fsys)
	if err != nil {
		return nil, err
	}

	var out []MigrationStatus
	err = m.locked(ctx, func(conn *pgxpool.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		out = statusReport(plan, applied)
		return nil
	})
	return out, err
}

// locked runs fn on a single connection holding the migration lock, after
// making sure the bookkeeping table exists.
func (m *Migrator) locked(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			m.logger.WithError(err).Warn("Failed to release migration lock")
		}
	}()

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ DEFAULT NOW() NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	return fn(conn)
}

func appliedVersions(ctx context.Context, conn *pgxpool.Conn) (map[string]time.Time, error) {
	rows, err := conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]time.Time{}
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// loadMigrations reads NNN_name.up.sql / NNN_name.down.sql pairs from the
// migrations directory of fsys, ordered by version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	byVersion := map[string]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()

		var direction string
		switch {
		case strings.HasSuffix(file, ".up.sql"):
			direction = "up"
		case strings.HasSuffix(file, ".down.sql"):
			direction = "down"
		default:
			continue
		}

		version, _, ok := strings.Cut(file, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: name must look like NNN_description.%s.sql", file, direction)
		}

		content, err := fs.ReadFile(fsys, path.Join("migrations", file))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &migration{Version: version}
			byVersion[version] = mig
		}

		if direction == "up" {
			if mig.Up != "" {
				return nil, fmt.Errorf("migration version %s has more than one up file", version)
			}
			mig.Name = strings.TrimSuffix(file, ".up.sql")
			mig.Up = string(content)
		} else {
			if mig.Down != "" {
				return nil, fmt.Errorf("migration version %s has more than one down file", version)
			}
			mig.Down = string(content)
		}
	}

	plan := make([]migration, 0, len(byVersion))
	for version, mig := range byVersion {
		if mig.Up == "" {
			return nil, fmt.Errorf("migration version %s has no up file", version)
		}
		if mig.Down == "" {
			return nil, fmt.Errorf("migration %s has no down file", mig.Name)
		}
		plan = append(plan, *mig)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Version < plan[j].Version })
	return plan, nil
}

func statusReport(plan []migration, applied map[string]time.Time) []MigrationStatus {
	out := make([]MigrationStatus, 0, len(plan))
	for _, mig := range plan {
		status := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			status.AppliedAt = &at
		}
		out = append(out, status)
	}
	return out
}
