package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry       Entry
		side        sql.NullString
		crossedRaw  sql.NullString
		firstRaw    string
		lastRaw     string
		plate       sql.NullString
		cropPath    sql.NullString
		recordedRaw string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.TrackID,
		&entry.Action,
		&side,
		&crossedRaw,
		&firstRaw,
		&lastRaw,
		&entry.Samples,
		&plate,
		&cropPath,
		&recordedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan crossing: %w", err)
	}
	entry.Side = side.String
	entry.Plate = plate.String
	entry.CropPath = cropPath.String
	entry.CrossedAt = parseTime(crossedRaw.String)
	entry.FirstSeen = parseTime(firstRaw)
	entry.LastSeen = parseTime(lastRaw)
	entry.RecordedAt = parseTime(recordedRaw)
	return entry, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
