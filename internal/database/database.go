// Package database persists completed stop events and vehicle positions in
// a local SQLite file. The realtime feed itself is never persisted.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/live"
)

type DB struct {
	sql *sql.DB
	log zerolog.Logger
}

// Open creates the database file (and its directory) if needed and ensures
// the schema exists.
func Open(path string, log zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db := &DB{sql: conn, log: log}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("database opened")
	return db, nil
}

func (db *DB) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS completed_stop_times (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stop_id TEXT,
			trip_id TEXT,
			route_id TEXT,
			date TEXT,
			actual_arrival TEXT,
			actual_departure TEXT,
			scheduled_arrival TEXT,
			scheduled_departure TEXT,
			UNIQUE(stop_id, trip_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS vehicle_positions (
			trip_id TEXT,
			vehicle_id TEXT,
			route_id TEXT,
			latitude REAL,
			longitude REAL,
			timestamp INTEGER,
			PRIMARY KEY (trip_id, timestamp)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.sql.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RecordStopEvent inserts a completed stop visit, ignoring duplicates for
// the same (stop, trip, date).
func (db *DB) RecordStopEvent(ctx context.Context, ev live.StopEvent) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT OR IGNORE INTO completed_stop_times (
			stop_id, trip_id, route_id, date,
			actual_arrival, actual_departure,
			scheduled_arrival, scheduled_departure
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.StopID, ev.TripID, ev.RouteID, ev.Date,
		ev.ActualArrival, ev.ActualDeparture,
		ev.ScheduledArrival, ev.ScheduledDeparture,
	)
	if err != nil {
		return fmt.Errorf("insert stop event: %w", err)
	}
	return nil
}

// RecordVehicleFix inserts a vehicle position sample, ignoring duplicates
// for the same (trip, timestamp).
func (db *DB) RecordVehicleFix(ctx context.Context, fix live.VehicleFix) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT OR IGNORE INTO vehicle_positions (
			trip_id, vehicle_id, route_id, latitude, longitude, timestamp
		) VALUES (?, ?, ?, ?, ?, ?)`,
		fix.TripID, fix.VehicleID, fix.RouteID, fix.Latitude, fix.Longitude, fix.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert vehicle fix: %w", err)
	}
	return nil
}

// CountStopEvents reports rows in completed_stop_times for a given date.
func (db *DB) CountStopEvents(ctx context.Context, date string) (int, error) {
	var n int
	err := db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM completed_stop_times WHERE date = ?`, date).Scan(&n)
	return n, err
}

func (db *DB) HealthCheck(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database")
	db.sql.Close()
}
