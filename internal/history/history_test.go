package history

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/msolberg/weather-station/internal/db"
	"github.com/msolberg/weather-station/internal/migrate"
	"github.com/msolberg/weather-station/internal/types"
)

func setupRepo(t *testing.T) (*Repository, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	conn, err := db.Open(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if _, err := migrate.Run(ctx, conn, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(conn), conn
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRecordAndLatest(t *testing.T) {
	repo, _ := setupRepo(t)
	repo.now = stepClock(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	indoor := types.Reading{
		TemperatureF: types.Float(71.6),
		Humidity:     types.Float(45),
		Pressure:     types.Float(1013.25),
		Gas:          types.Float(120),
	}
	outdoor := types.Reading{TemperatureF: types.Float(55.4), Humidity: types.Float(80)}

	if err := repo.Record(ctx, "weather/station", "indoor", indoor); err != nil {
		t.Fatalf("Record indoor: %v", err)
	}
	if err := repo.Record(ctx, "weather/station", "outdoor", outdoor); err != nil {
		t.Fatalf("Record outdoor: %v", err)
	}

	all, err := repo.Latest(ctx, "", 10)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Latest returned %d entries, want 2", len(all))
	}
	if all[0].Location != "outdoor" || all[1].Location != "indoor" {
		t.Errorf("order = %s, %s; want newest first", all[0].Location, all[1].Location)
	}
	if _, err := uuid.Parse(all[0].ID); err != nil {
		t.Errorf("id %q is not a uuid: %v", all[0].ID, err)
	}
	if all[0].Reading.Pressure != nil || all[0].Reading.Gas != nil {
		t.Errorf("outdoor reading = %+v, want pressure and gas absent", all[0].Reading)
	}
	if got := all[1].Reading; got.Gas == nil || *got.Gas != 120 || got.Pressure == nil || *got.Pressure != 1013.25 {
		t.Errorf("indoor reading = %+v", got)
	}
	if !all[1].ReceivedAt.Equal(time.Date(2026, 10, 17, 12, 0, 1, 0, time.UTC)) {
		t.Errorf("ReceivedAt = %v", all[1].ReceivedAt)
	}

	onlyIndoor, err := repo.Latest(ctx, "indoor", 10)
	if err != nil {
		t.Fatalf("Latest indoor: %v", err)
	}
	if len(onlyIndoor) != 1 || onlyIndoor[0].Location != "indoor" {
		t.Errorf("Latest(indoor) = %+v", onlyIndoor)
	}
}

func TestLatest_Limit(t *testing.T) {
	repo, _ := setupRepo(t)
	repo.now = stepClock(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := repo.Record(ctx, "t", "outdoor", types.Reading{TemperatureF: types.Float(float64(50 + i))}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := repo.Latest(ctx, "", 3)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if *got[0].Reading.TemperatureF != 54 {
		t.Errorf("newest temperature = %v, want 54", *got[0].Reading.TemperatureF)
	}
}

func TestLatest_Empty(t *testing.T) {
	repo, _ := setupRepo(t)

	got, err := repo.Latest(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Latest = %#v, want empty non-nil slice", got)
	}
}

func TestRecord_RejectsUnknownLocation(t *testing.T) {
	repo, _ := setupRepo(t)

	if err := repo.Record(context.Background(), "t", "attic", types.Reading{}); err == nil {
		t.Fatal("Record with an unknown location succeeded, want CHECK constraint error")
	}
}

func TestPing(t *testing.T) {
	repo, conn := setupRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = conn.Close()
	if err := repo.Ping(context.Background()); err == nil {
		t.Error("Ping on a closed db succeeded")
	}
}
