package storage

import (
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database.
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createGraphTables(tx); err != nil {
			return err
		}
		if err := createCoverageTables(tx); err != nil {
			return err
		}
		if err := createIngestRunsTable(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", map[string]interface{}{
			"version": currentSchemaVersion,
		})
		return nil
	})
}

// runMigrations runs any pending schema migrations.
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}
	if version == 0 {
		// version table missing, treat as fresh
		return db.initializeSchema()
	}
	if version == currentSchemaVersion {
		return nil
	}

	db.logger.Info("Running database migrations", map[string]interface{}{
		"from_version": version,
		"to_version":   currentSchemaVersion,
	})

	// Migrations go here as the schema evolves.

	return nil
}

func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
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
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
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
	return err
}

// createGraphTables creates the call graph tables: function nodes, resolved
// edges with their provenance sites, and unresolved calls.
func createGraphTables(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS functions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			file TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			subsystem TEXT NOT NULL,
			is_static INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create functions table: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS call_edges (
			caller_id TEXT NOT NULL,
			callee_id TEXT NOT NULL,

			PRIMARY KEY (caller_id, callee_id),
			FOREIGN KEY (caller_id) REFERENCES functions(id) ON DELETE CASCADE,
			FOREIGN KEY (callee_id) REFERENCES functions(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create call_edges table: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS call_sites (
			caller_id TEXT NOT NULL,
			callee_id TEXT NOT NULL,
			file TEXT NOT NULL,
			line INTEGER NOT NULL,

			FOREIGN KEY (caller_id, callee_id)
				REFERENCES call_edges(caller_id, callee_id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create call_sites table: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS unresolved_calls (
			callee TEXT NOT NULL,
			file TEXT NOT NULL,
			line INTEGER NOT NULL,
			reason TEXT NOT NULL CHECK(reason IN ('unknown', 'ambiguous'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create unresolved_calls table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_functions_name ON functions(name)",
		"CREATE INDEX IF NOT EXISTS idx_functions_file ON functions(file)",
		"CREATE INDEX IF NOT EXISTS idx_call_edges_callee ON call_edges(callee_id)",
		"CREATE INDEX IF NOT EXISTS idx_call_sites_edge ON call_sites(caller_id, callee_id)",
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// createCoverageTables creates the KUnit test case and coverage tables.
func createCoverageTables(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS test_cases (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			file TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			suite TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create test_cases table: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS coverage (
			test_id TEXT NOT NULL,
			function_id TEXT NOT NULL,

			PRIMARY KEY (test_id, function_id),
			FOREIGN KEY (test_id) REFERENCES test_cases(id) ON DELETE CASCADE,
			FOREIGN KEY (function_id) REFERENCES functions(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create coverage table: %w", err)
	}

	_, err = tx.Exec(
		"CREATE INDEX IF NOT EXISTS idx_coverage_function ON coverage(function_id)")
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// createIngestRunsTable records each ingestion for provenance.
func createIngestRunsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS ingest_runs (
			id TEXT PRIMARY KEY,
			subsystem TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			files_total INTEGER NOT NULL,
			files_fallback INTEGER NOT NULL,
			files_degraded INTEGER NOT NULL,
			functions INTEGER NOT NULL,
			edges INTEGER NOT NULL,
			unresolved INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ingest_runs table: %w", err)
	}
	return nil
}
