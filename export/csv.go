package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hb9tf/wifiradar/publish"
)

// CSV writes one line per snapshot. The grid is flattened in row-major
// order and separated by spaces.
type CSV struct {
	// Out defaults to stdout.
	Out io.Writer
}

var csvHeader = []string{
	"RunID",
	"Cycle",
	"TakenUnixMilli",
	"Score",
	"Packets",
	"TotalPackets",
	"Max",
	"Mean",
	"ActiveCells",
	"Rows",
	"Cols",
	"Grid",
}

func (c *CSV) Write(ctx context.Context, snapshots <-chan publish.Snapshot) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("unable to write CSV header: %w", err)
	}
	w.Flush()

	return drain(ctx, snapshots, newCounter("csv"), func(s publish.Snapshot) error {
		if err := w.Write(csvRecord(s)); err != nil {
			return err
		}
		w.Flush()
		return w.Error()
	})
}

func csvRecord(s publish.Snapshot) []string {
	cells := s.Cells()
	grid := make([]string, len(cells))
	for i, v := range cells {
		grid[i] = fmt.Sprintf("%.4f", v)
	}
	return []string{
		s.RunID,
		fmt.Sprintf("%d", s.Cycle),
		fmt.Sprintf("%d", s.Taken.UnixMilli()),
		fmt.Sprintf("%f", s.Score),
		fmt.Sprintf("%d", s.Packets),
		fmt.Sprintf("%d", s.TotalPackets),
		fmt.Sprintf("%f", s.Max),
		fmt.Sprintf("%f", s.Mean),
		fmt.Sprintf("%d", s.ActiveCells),
		fmt.Sprintf("%d", s.Rows),
		fmt.Sprintf("%d", s.Cols),
		strings.Join(grid, " "),
	}
}
