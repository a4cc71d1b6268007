package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aminovpavel/thermopipe-go/internal/config"
	"github.com/aminovpavel/thermopipe-go/internal/journal"
)

func main() {
	var (
		path       = flag.String("db", "", "Path to the journal database (defaults to journal_file from config)")
		configPath = flag.String("config", "", "Path to config.yaml (defaults to config.yaml in cwd)")
		kind       = flag.String("kind", "", "Only show events of this kind (boot, telemetry, error_report, reset)")
		bootID     = flag.String("boot", "", "Only show events from this boot id")
		startID    = flag.Int64("start-id", 0, "Show events starting from this id (inclusive)")
		endID      = flag.Int64("end-id", 0, "Show events up to this id (inclusive)")
		limit      = flag.Int("limit", 50, "Show at most this many of the newest events (0 = all)")
	)
	flag.Parse()

	if *path == "" {
		cfg, err := config.New(*configPath)
		if err != nil {
			log.Fatalf("thermopipe-journal: load config: %v", err)
		}
		*path = cfg.JournalFile
	}
	if *path == "" {
		log.Fatal("thermopipe-journal: --db is required when journal_file is not configured")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	entries, err := journal.ReadSQLite(ctx, *path, journal.Options{
		StartID: *startID,
		EndID:   *endID,
		Kind:    *kind,
		BootID:  *bootID,
		Limit:   *limit,
	})
	if err != nil {
		log.Fatalf("thermopipe-journal: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tBOOT\tKIND\tTEMP\tHUMIDITY\tDELIVERED\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Time.UTC().Format(time.RFC3339),
			shortID(e.BootID),
			e.Kind,
			float(e.Temperature),
			float(e.Humidity),
			boolean(e.Delivered),
			e.Message,
		)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("thermopipe-journal: write output: %v", err)
	}
	log.Printf("thermopipe-journal: %d events from %s", len(entries), *path)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func float(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func boolean(v *bool) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatBool(*v)
}
