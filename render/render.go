package main

/*
This application renders the latest heatmap stored by the radar's
sqlite export into an image.
*/

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/wifiradar/export"
	"github.com/hb9tf/wifiradar/heatmap"

	// Blind import support for sqlite3.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	sqliteFile = flag.String("sqliteFile", "/tmp/wifiradar", "File path of the sqlite DB file to use.")
	identifier = flag.String("id", "", "Run identifier to render, the most recent run when empty.")
	imgPath    = flag.String("imgPath", "/tmp/heatmap.png", "Path where the rendered image should be written to (.png or .jpg).")
	cellSize   = flag.Int("cellSize", heatmap.DefaultCellSize, "Edge length of a grid cell in pixels.")
	legend     = flag.Bool("legend", true, "Add grid statistics below the heatmap.")
)

const timeFmt = "2006-01-02T15:04:05"

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	db, err := sql.Open("sqlite3", *sqliteFile)
	if err != nil {
		glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := export.LoadLatest(ctx, db, *identifier)
	if err != nil {
		glog.Exitf("unable to load snapshot from %q: %s", *sqliteFile, err)
	}

	fmt.Println("Selected snapshot:")
	fmt.Printf("  - Run: %s\n", snap.RunID)
	fmt.Printf("  - Cycle: %d\n", snap.Cycle)
	fmt.Printf("  - Taken: %s\n", snap.Taken.Format(timeFmt))
	fmt.Printf("  - Grid: %d x %d\n", snap.Rows, snap.Cols)
	fmt.Printf("  - Max: %.3f, Mean: %.3f, Active Cells: %d\n", snap.Max, snap.Mean, snap.ActiveCells)

	img := heatmap.Render(snap, heatmap.Options{CellSize: *cellSize, Legend: *legend})
	fmt.Printf("Writing image (%d x %d) to %q\n", img.Bounds().Dx(), img.Bounds().Dy(), *imgPath)
	if err := heatmap.Save(*imgPath, img); err != nil {
		glog.Exit(err)
	}
}
