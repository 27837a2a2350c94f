package storage

import (
	"context"
	"database/sql"
	"fmt"

	"depverify/internal/errors"
)

// Schema version tracking
const currentSchemaVersion = 1

func (db *DB) initializeSchema() error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createRunsTable(tx); err != nil {
			return err
		}
		if err := createClaimResultsTable(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return errors.New(errors.InternalError, "failed to read schema version", err)
	}

	switch {
	case version == currentSchemaVersion:
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	case version == 0:
		// An empty file left by an interrupted first open.
		return db.initializeSchema()
	case version > currentSchemaVersion:
		return errors.New(errors.SchemaVersionConflict,
			fmt.Sprintf("database schema %d is newer than supported %d", version, currentSchemaVersion), nil).
			WithDetails(map[string]interface{}{"path": db.dbPath, "version": version})
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)
	return nil
}

func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	return nil
}

// createRunsTable creates the runs table. graph holds the zstd-compressed
// JSON of the run's graph.
func createRunsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			duration_ns INTEGER NOT NULL,
			partial INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL,
			confirmed INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			cancelled INTEGER NOT NULL,
			failed INTEGER NOT NULL DEFAULT 0,
			nodes INTEGER NOT NULL,
			edges INTEGER NOT NULL,
			schema_version TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			graph BLOB NOT NULL,
			saved_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`)
	if err != nil {
		return fmt.Errorf("failed to create runs index: %w", err)
	}
	return nil
}

// createClaimResultsTable creates one row per claim of a run, in input order.
func createClaimResultsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS claim_results (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			claim_key TEXT NOT NULL,
			status TEXT NOT NULL,
			confidence REAL NOT NULL,
			attempts INTEGER NOT NULL,
			reason TEXT,
			result_json TEXT NOT NULL,
			PRIMARY KEY (run_id, position),
			FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create claim_results table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_claim_results_key ON claim_results(claim_key)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_results_status ON claim_results(run_id, status)`,
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create claim_results index: %w", err)
		}
	}
	return nil
}
