package audit

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/sonos-fleet-go/internal/devices"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Repository handles database operations for sweep records.
// Uses separate reader/writer connections for SQLite concurrency.
type Repository struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/DELETE
}

// NewRepository creates a new sweep record Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// InsertRecord stores a sweep result under a fresh record ID.
func (r *Repository) InsertRecord(result devices.SweepResult) (*SweepRecord, error) {
	recordID := uuid.New().String()

	found, err := marshalUDNs(result.Found)
	if err != nil {
		return nil, err
	}
	added, err := marshalUDNs(result.Added)
	if err != nil {
		return nil, err
	}
	removed, err := marshalUDNs(result.Removed)
	if err != nil {
		return nil, err
	}

	var sweepErr *string
	if result.Error != "" {
		sweepErr = &result.Error
	}

	_, err = r.writer.Exec(`
		INSERT INTO sweep_records (record_id, generation, started_at, finished_at, outcome, found_json, added_json, removed_json, device_count, group_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, recordID, int64(result.Generation), formatTime(result.StartedAt), formatTime(result.FinishedAt), result.Outcome,
		found, added, removed, result.DeviceCount, result.GroupCount, sweepErr)
	if err != nil {
		return nil, err
	}

	return r.GetRecord(recordID)
}

// GetRecord retrieves a single record by ID.
// Returns nil, nil if not found.
func (r *Repository) GetRecord(recordID string) (*SweepRecord, error) {
	row := r.reader.QueryRow(`
		SELECT record_id, generation, started_at, finished_at, outcome, found_json, added_json, removed_json, device_count, group_count, error
		FROM sweep_records
		WHERE record_id = ?
	`, recordID)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// QueryRecords lists records newest first. Returns records, total count, and error.
func (r *Repository) QueryRecords(filters RecordQueryFilters) ([]SweepRecord, int, error) {
	whereClause := ""
	args := []any{}
	if filters.Outcome != nil {
		whereClause = "WHERE outcome = ?"
		args = append(args, *filters.Outcome)
	}

	var total int
	if err := r.reader.QueryRow("SELECT COUNT(*) FROM sweep_records "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	rows, err := r.reader.Query(`
		SELECT record_id, generation, started_at, finished_at, outcome, found_json, added_json, removed_json, device_count, group_count, error
		FROM sweep_records
		`+whereClause+`
		ORDER BY finished_at DESC, generation DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, filters.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []SweepRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// PruneToLatest keeps the newest keep records and deletes the rest.
// Returns number of rows deleted.
func (r *Repository) PruneToLatest(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := r.writer.Exec(`
		DELETE FROM sweep_records
		WHERE record_id NOT IN (
			SELECT record_id FROM sweep_records
			ORDER BY finished_at DESC, generation DESC
			LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*SweepRecord, error) {
	var record SweepRecord
	var generation int64
	var startedAt, finishedAt string
	var found, added, removed string
	var sweepErr sql.NullString

	err := row.Scan(
		&record.RecordID,
		&generation,
		&startedAt,
		&finishedAt,
		&record.Outcome,
		&found,
		&added,
		&removed,
		&record.DeviceCount,
		&record.GroupCount,
		&sweepErr,
	)
	if err != nil {
		return nil, err
	}

	record.Generation = uint64(generation)
	record.StartedAt = parseTime(startedAt)
	record.FinishedAt = parseTime(finishedAt)
	if sweepErr.Valid {
		record.Error = &sweepErr.String
	}
	for _, field := range []struct {
		raw string
		dst *[]string
	}{{found, &record.Found}, {added, &record.Added}, {removed, &record.Removed}} {
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return nil, err
		}
		if *field.dst == nil {
			*field.dst = []string{}
		}
	}
	return &record, nil
}

func marshalUDNs(udns []string) (string, error) {
	if udns == nil {
		udns = []string{}
	}
	raw, err := json.Marshal(udns)
	return string(raw), err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(timestampLayout, value)
	if err != nil {
		parsed, _ = time.Parse(time.RFC3339, value)
	}
	return parsed
}
