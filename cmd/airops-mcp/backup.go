package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/HyphaGroup/airops-go/internal/auth"
	"github.com/HyphaGroup/airops-go/internal/backup"
	"github.com/HyphaGroup/airops-go/internal/config"
	"github.com/HyphaGroup/airops-go/internal/schedule"
	"github.com/HyphaGroup/airops-go/internal/store"
)

// openSources opens every local database for snapshotting. The returned
// func closes them.
func openSources(dataDir string) (map[string]backup.Source, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	history, err := store.Open(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	closers = append(closers, history.Close)

	schedules, err := schedule.NewStore(dataDir)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to open schedules: %w", err)
	}
	closers = append(closers, schedules.Close)

	tokens, err := auth.NewStore(dataDir)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to open token store: %w", err)
	}
	closers = append(closers, tokens.Close)

	return map[string]backup.Source{
		"executions.db": history,
		"schedules.db":  schedules,
		"auth.db":       tokens,
	}, closeAll, nil
}

func cmdBackup(args []string) {
	if len(args) < 1 {
		printBackupUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	configDir := fs.String("config", "", "Directory holding airops.jsonc")
	jsonOut := fs.Bool("json", false, "Print the backup manifest as JSON (list)")
	_ = fs.Parse(args[1:])

	cmd := args[0]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printBackupUsage()
		return
	}

	cfg, err := config.LoadAll(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "create":
		err = backupCreate(cfg)
	case "list":
		err = backupList(cfg, *jsonOut)
	case "restore":
		err = backupRestore(cfg, fs.Args())
	default:
		fmt.Fprintf(os.Stderr, "Unknown backup command: %s\n", cmd)
		printBackupUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printBackupUsage() {
	fmt.Println(`Backup Management

Usage: airops-mcp backup <command> [options]

Commands:
  create    Snapshot history, schedules and tokens into one archive
  list      List backup archives
  restore   Replace the local databases with an archive's copies
  help      Show this help

Stop the server before restoring.

Examples:
  airops-mcp backup create
  airops-mcp backup list --json
  airops-mcp backup restore airops_20260301_120000.tar.gz`)
}

func backupCreate(cfg *config.LoadedConfig) error {
	sources, closeAll, err := openSources(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer closeAll()

	m, err := backup.New(backup.Config{
		Sources:   sources,
		BackupDir: cfg.Storage.Backup.Dir,
		Retention: cfg.Storage.Backup.Retention,
	})
	if err != nil {
		return err
	}
	snap, err := m.Backup(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Backup created: %s (%d bytes)\n", snap.Filename, snap.SizeBytes)
	return nil
}

func backupList(cfg *config.LoadedConfig, jsonOut bool) error {
	m, err := backup.New(backup.Config{BackupDir: cfg.Storage.Backup.Dir})
	if err != nil {
		return err
	}
	if jsonOut {
		manifest, err := m.ExportManifest()
		if err != nil {
			return err
		}
		fmt.Println(string(manifest))
		return nil
	}
	snapshots, err := m.ListSnapshots()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Println("No backups found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tCREATED\tSIZE")
	for _, s := range snapshots {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", s.Filename, s.Timestamp.Format("2006-01-02 15:04:05"), s.SizeBytes)
	}
	return w.Flush()
}

func backupRestore(cfg *config.LoadedConfig, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("backup file required\nUsage: airops-mcp backup restore <file>")
	}
	m, err := backup.New(backup.Config{BackupDir: cfg.Storage.Backup.Dir})
	if err != nil {
		return err
	}
	restored, err := m.Restore(args[0], cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %v into %s\n", restored, cfg.Storage.DataDir)
	return nil
}
