package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/mdstudy/mdstudy/internal/config"
	"github.com/mdstudy/mdstudy/internal/session"
	"github.com/mdstudy/mdstudy/internal/storage"
	"github.com/mdstudy/mdstudy/internal/sync"
	"github.com/mdstudy/mdstudy/internal/web"
)

func main() {
	flags := pflag.NewFlagSet("mdstudy", pflag.ExitOnError)
	configPath := flags.String("config", "", "Path to a YAML config file")
	flags.String("db", "", "Path to the SQLite database file")
	flags.String("addr", "", "HTTP listen address")
	dir := flags.String("dir", "", "Sync all markdown files under this directory once")
	addSource := flags.String("add-source", "", "Register a local directory or git URL as a card source")
	runSync := flags.Bool("sync", false, "Sync all registered sources")
	checkOrphans := flags.Bool("check-orphans", false, "Report file decks whose source file is missing (with --dir)")
	serve := flags.Bool("serve", false, "Start the HTTP API server")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DB)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DB, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database opened", "path", cfg.DB)

	rec := sync.New(db, cfg.Match.FuzzyThreshold)

	switch {
	case *addSource != "":
		kind := sync.DetectSourceKind(*addSource)
		id, err := db.InsertSource(*addSource, kind)
		if err != nil {
			slog.Error("Failed to add source", "path", *addSource, "error", err)
			os.Exit(1)
		}
		slog.Info("Source added", "id", id, "kind", kind, "path", *addSource)

	case *runSync:
		if err := rec.RunSources(cfg.ReposDir); err != nil {
			slog.Error("Sync failed", "error", err)
			os.Exit(1)
		}

	case *dir != "":
		results, err := rec.SyncDir(*dir)
		if err != nil {
			slog.Error("Failed to sync directory", "dir", *dir, "error", err)
			os.Exit(1)
		}
		var created, updated, deleted, errCount int
		for _, res := range results {
			created += res.Created
			updated += res.Updated
			deleted += res.Deleted
			errCount += len(res.Errors)
			for _, e := range res.Errors {
				fmt.Printf("%s: %s\n", res.Path, e.Error())
			}
		}
		fmt.Printf("Synced %d files: %d created, %d updated, %d deleted, %d errors.\n",
			len(results), created, updated, deleted, errCount)

		if *checkOrphans {
			orphans, err := rec.CheckOrphans(*dir)
			if err != nil {
				slog.Error("Orphan check failed", "error", err)
				os.Exit(1)
			}
			for _, o := range orphans {
				fmt.Printf("orphaned deck %d: source %s missing (%d cards)\n", o.DeckID, o.SourcePath, o.CardCount)
			}
		}

	case *serve:
		mgr := session.NewManager(db, cfg.SchedulerParams(), session.Config{
			LearnAhead:  time.Duration(cfg.Session.LearnAheadMinutes) * time.Minute,
			NewLimit:    cfg.Session.NewLimit,
			ReviewLimit: cfg.Session.ReviewLimit,
		})
		server := web.NewServer(db, rec, mgr, cfg.ReposDir)
		slog.Info("Listening", "addr", cfg.Addr)
		if err := http.ListenAndServe(cfg.Addr, server); err != nil {
			slog.Error("Server stopped", "error", err)
			os.Exit(1)
		}

	default:
		flags.Usage()
	}
}
