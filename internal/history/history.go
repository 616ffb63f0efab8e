// Package history stores every accepted station reading in SQLite.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/msolberg/weather-station/internal/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/latest-readings.sql
var latestReadingsSQL string

//go:embed sql/latest-readings-by-location.sql
var latestReadingsByLocationSQL string

// tsLayout is fixed width so received_at sorts as text.
const tsLayout = "2006-01-02T15:04:05.000000Z07:00"

// Entry is one stored reading.
type Entry struct {
	ID         string        `json:"id"`
	ReceivedAt time.Time     `json:"received_at"`
	Topic      string        `json:"topic"`
	Location   string        `json:"location"`
	Reading    types.Reading `json:"reading"`
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Record stores r under a fresh id.
func (r *Repository) Record(ctx context.Context, topic, location string, reading types.Reading) error {
	ts := r.now().UTC().Format(tsLayout)
	_, err := r.db.ExecContext(ctx, insertReadingSQL,
		uuid.NewString(), ts, topic, location,
		nullable(reading.TemperatureF),
		nullable(reading.Humidity),
		nullable(reading.Pressure),
		nullable(reading.Gas),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// Latest returns up to limit entries, newest first. An empty location
// returns both indoor and outdoor readings.
func (r *Repository) Latest(ctx context.Context, location string, limit int) ([]Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if location == "" {
		rows, err = r.db.QueryContext(ctx, latestReadingsSQL, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, latestReadingsByLocationSQL, location, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()
	return scanEntries(rows)
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	out := []Entry{}
	for rows.Next() {
		var (
			e                          Entry
			ts                         string
			temp, humidity, press, gas sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Topic, &e.Location, &temp, &humidity, &press, &gas); err != nil {
			return nil, err
		}
		t, err := time.Parse(tsLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse received_at %q: %w", ts, err)
		}
		e.ReceivedAt = t
		e.Reading = types.Reading{
			TemperatureF: fromNull(temp),
			Humidity:     fromNull(humidity),
			Pressure:     fromNull(press),
			Gas:          fromNull(gas),
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return types.Float(n.Float64)
}
