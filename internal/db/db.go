package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBPair holds separate read and write connections for SQLite.
// With WAL mode, readers don't block the writer and vice versa.
type DBPair struct {
	reader *sql.DB // Multiple connections for concurrent reads
	writer *sql.DB // Single connection for serialized writes
}

// Reader returns the read-only database connection pool.
func (p *DBPair) Reader() *sql.DB { return p.reader }

// Writer returns the read-write database connection pool.
func (p *DBPair) Writer() *sql.DB { return p.writer }

// Close closes both database connections.
func (p *DBPair) Close() error {
	var errs []error
	if err := p.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := p.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errs...)
}

// Init opens the sweep log database and applies the schema.
func Init(dbPath string) (*DBPair, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}

	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	// Writer: one connection; SQLite serializes writes anyway
	writerConnStr := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000&mode=rwc", dbPath)
	writer, err := sql.Open("sqlite3", writerConnStr)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}

	// Schema first so the read-only pool never sees a missing table
	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := runMigrations(writer); err != nil {
		writer.Close()
		return nil, err
	}

	readerConnStr := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000&mode=ro", dbPath)
	reader, err := sql.Open("sqlite3", readerConnStr)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)

	return &DBPair{reader: reader, writer: writer}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// runMigrations brings databases created by older builds up to the current schema.
func runMigrations(db *sql.DB) error {
	columns, err := tableColumns(db, "sweep_records")
	if err != nil {
		return err
	}

	if !columns["group_count"] {
		if _, err := db.Exec("ALTER TABLE sweep_records ADD COLUMN group_count INTEGER NOT NULL DEFAULT 0"); err != nil {
			return fmt.Errorf("add sweep_records.group_count: %w", err)
		}
	}
	if !columns["error"] {
		if _, err := db.Exec("ALTER TABLE sweep_records ADD COLUMN error TEXT"); err != nil {
			return fmt.Errorf("add sweep_records.error: %w", err)
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultVal sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return columns, nil
}
