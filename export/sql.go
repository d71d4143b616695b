package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hb9tf/wifiradar/publish"
)

// Dialect holds the statements that differ between database engines.
type Dialect struct {
	Name        string
	CreateTable string
}

var SQLite = Dialect{
	Name: "sqlite",
	CreateTable: `CREATE TABLE IF NOT EXISTS snapshots (
		"ID"           INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"RunID"        TEXT NOT NULL,
		"Cycle"        INTEGER,
		"Taken"        INTEGER,
		"Score"        REAL,
		"Packets"      INTEGER,
		"TotalPackets" INTEGER,
		"Max"          REAL,
		"Mean"         REAL,
		"ActiveCells"  INTEGER,
		"GridRows"     INTEGER,
		"GridCols"     INTEGER,
		"Grid"         TEXT
	);`,
}

const (
	sqlInsertSnapshotTmpl = `INSERT INTO snapshots (
		RunID,
		Cycle,
		Taken,
		Score,
		Packets,
		TotalPackets,
		Max,
		Mean,
		ActiveCells,
		GridRows,
		GridCols,
		Grid
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	sqlSelectLatestTmpl = `SELECT
		RunID,
		Cycle,
		Taken,
		Score,
		Packets,
		TotalPackets,
		Max,
		Mean,
		ActiveCells,
		GridRows,
		GridCols,
		Grid
	FROM
		snapshots
	WHERE
		RunID LIKE ?
	ORDER BY
		Taken DESC,
		ID DESC
	LIMIT 1;`
)

// ErrNoSnapshot is returned by LoadLatest when nothing matches.
var ErrNoSnapshot = errors.New("no snapshot stored")

// SQL stores every snapshot as a row with the grid as JSON.
type SQL struct {
	DB      *sql.DB
	Dialect Dialect
}

func (s *SQL) Write(ctx context.Context, snapshots <-chan publish.Snapshot) error {
	if err := s.CreateTable(ctx); err != nil {
		return err
	}
	insert, err := s.DB.PrepareContext(ctx, sqlInsertSnapshotTmpl)
	if err != nil {
		return fmt.Errorf("unable to prepare insert: %w", err)
	}
	defer insert.Close()

	return drain(ctx, snapshots, newCounter(s.Dialect.Name), func(snap publish.Snapshot) error {
		grid, err := json.Marshal(snap.Cells())
		if err != nil {
			return err
		}
		_, err = insert.ExecContext(ctx, snap.RunID, snap.Cycle, snap.Taken.UnixMilli(), snap.Score, snap.Packets, snap.TotalPackets, snap.Max, snap.Mean, snap.ActiveCells, snap.Rows, snap.Cols, string(grid))
		return err
	})
}

func (s *SQL) CreateTable(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.CreateTable); err != nil {
		return fmt.Errorf("unable to create table: %w", err)
	}
	return nil
}

// LoadLatest returns the most recent snapshot of runID. An empty runID
// matches every run.
func LoadLatest(ctx context.Context, db *sql.DB, runID string) (publish.Snapshot, error) {
	if runID == "" {
		runID = "%"
	}
	var (
		st         publish.Stats
		id         string
		taken      int64
		rows, cols int
		grid       string
	)
	err := db.QueryRowContext(ctx, sqlSelectLatestTmpl, runID).Scan(&id, &st.Cycle, &taken, &st.Score, &st.Packets, &st.TotalPackets, &st.Max, &st.Mean, &st.ActiveCells, &rows, &cols, &grid)
	if errors.Is(err, sql.ErrNoRows) {
		return publish.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return publish.Snapshot{}, fmt.Errorf("unable to query latest snapshot: %w", err)
	}

	var cells []float64
	if err := json.Unmarshal([]byte(grid), &cells); err != nil {
		return publish.Snapshot{}, fmt.Errorf("unable to decode stored grid: %w", err)
	}
	if len(cells) != rows*cols {
		return publish.Snapshot{}, fmt.Errorf("stored grid has %d cells, want %dx%d", len(cells), rows, cols)
	}
	return publish.NewSnapshot(id, time.UnixMilli(taken), rows, cols, cells, st), nil
}
