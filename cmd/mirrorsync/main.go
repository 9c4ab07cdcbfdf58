package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/oss-mirror-sync/internal/config"
	"github.com/chmdznr/oss-mirror-sync/internal/daemon"
	"github.com/chmdznr/oss-mirror-sync/pkg/models"
	"github.com/chmdznr/oss-mirror-sync/pkg/utils"
	"github.com/chmdznr/oss-mirror-sync/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	app := &cli.App{
		Name:                 "mirrorsync",
		Usage:                "Keep a set of local files mirrored to object storage with periodic zip backups",
		Version:              version.String(),
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
				Value:   config.DefaultPath(),
				EnvVars: []string{"MIRRORSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override log.format (text, json)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "run",
				Usage: "Sync every interval and back up when due, until interrupted",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Override sync.interval",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Decide but do not transfer files",
					},
					&cli.BoolFlag{
						Name:    "interactive",
						Aliases: []string{"i"},
						Usage:   "Read keys from the terminal: s sync now, b back up now, q quit",
					},
				},
				Action: runLoop,
			},
			{
				Name:  "sync",
				Usage: "Reconcile every mapping once",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Decide but do not transfer files",
					},
				},
				Action: syncOnce,
			},
			{
				Name:  "backup",
				Usage: "Run the backup check once",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Back up even if the interval has not elapsed",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Show a progress bar while building the archive",
					},
				},
				Action: backupOnce,
			},
			{
				Name:   "status",
				Usage:  "Show mapping state, transfer history and backup schedule",
				Action: showStatus,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func runLoop(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	rt, err := setup(ctx, c, options{dryRun: c.Bool("dry-run")})
	if err != nil {
		return err
	}
	defer rt.Close()

	interval := rt.cfg.Sync.Interval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}
	if interval <= 0 {
		return &models.ConfigurationError{Field: "interval", Err: errors.New("must be positive")}
	}

	var backuper daemon.Backuper
	if rt.scheduler != nil {
		backuper = rt.scheduler
	}
	runner := daemon.NewRunner(rt.engine, backuper, daemon.Config{
		Interval: interval,
		Logger:   rt.logger,
	})

	if c.Bool("interactive") {
		return daemon.RunInteractive(ctx, runner, daemon.TerminalKeys)
	}
	return runner.Run(ctx)
}

func syncOnce(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	rt, err := setup(ctx, c, options{dryRun: c.Bool("dry-run")})
	if err != nil {
		return err
	}
	defer rt.Close()

	report := rt.engine.RunCycle(ctx)
	printCycleReport(os.Stdout, report)

	if report.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d mappings failed", report.Failed, report.Total()), 1)
	}
	return nil
}

func backupOnce(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	opts := options{}
	if c.Bool("progress") {
		opts.progress = os.Stderr
	}
	rt, err := setup(ctx, c, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.scheduler == nil {
		return fmt.Errorf("backups are disabled in %s", c.String("config"))
	}

	var result models.BackupResult
	if c.Bool("force") {
		result = rt.scheduler.ForceBackup(ctx, time.Now())
	} else {
		result = rt.scheduler.Tick(ctx)
	}
	if result.Err != nil {
		return result.Err
	}

	if !result.Triggered {
		fmt.Printf("Backup not due. Last backup %s, next due %s\n",
			humanize.Time(result.LastBackup), humanize.Time(result.NextDue))
		return nil
	}

	archive := result.Archive
	fmt.Printf("Uploaded %s: %d files, %s\n", archive.Name, archive.Files, utils.FormatSize(archive.Size))
	if len(archive.Missing) > 0 {
		fmt.Printf("Missing locally: %v\n", archive.Missing)
	}
	fmt.Printf("Digest: %s\n", archive.Digest)
	fmt.Printf("Next backup due %s\n", result.NextDue.Local().Format(time.DateTime))
	return nil
}

func showStatus(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	rt, err := setup(ctx, c, options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg
	fmt.Printf("Storage: %s %s/%s\n", cfg.Storage.Backend, cfg.Storage.Endpoint, cfg.Storage.Bucket)
	fmt.Printf("Folder: %s\n", cfg.FolderID)
	fmt.Printf("Mappings: %d\n", len(rt.engine.Mappings()))
	for _, m := range rt.engine.Mappings() {
		state, err := rt.engine.State(ctx, m)
		if err != nil {
			fmt.Printf("  %-24s error: %v\n", m.RemoteName, err)
			continue
		}
		fmt.Printf("  %-24s local %-16s remote %-16s next: %s\n",
			m.RemoteName,
			relative(state.Local),
			relative(state.Remote),
			rt.engine.Decide(state))
	}

	if rt.db != nil {
		stats, err := rt.db.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get stats: %v", err)
		}
		fmt.Printf("Transfers: %s (uploads %s, downloads %s, failed %s)",
			humanize.Comma(stats.TotalTransfers),
			humanize.Comma(stats.Uploads),
			humanize.Comma(stats.Downloads),
			humanize.Comma(stats.FailedTransfers))
		if !stats.LastTransfer.IsZero() {
			fmt.Printf(", last %s", humanize.Time(stats.LastTransfer))
		}
		fmt.Println()
		fmt.Printf("Backups: %s stored (%s), %s failed\n",
			humanize.Comma(stats.TotalBackups),
			humanize.Bytes(uint64(stats.BackupSize)),
			humanize.Comma(stats.FailedBackups))

		recent, err := rt.db.RecentBackups(ctx, 3)
		if err != nil {
			return fmt.Errorf("failed to get backups: %v", err)
		}
		for _, b := range recent {
			line := fmt.Sprintf("  %s %s %s", b.Name, b.Status, humanize.Bytes(uint64(b.Size)))
			if b.Error != "" {
				line += " (" + b.Error + ")"
			}
			fmt.Println(line)
		}
	} else {
		fmt.Println("History: not kept (state.path is empty)")
	}

	if rt.scheduler == nil {
		fmt.Println("Backup: disabled")
		return nil
	}
	last, ok, err := rt.scheduler.PeekLastBackup(ctx)
	if err != nil {
		return fmt.Errorf("failed to read backup timer: %v", err)
	}
	if !ok {
		fmt.Println("Backup: never, due on next cycle")
		return nil
	}
	next := last.Add(rt.scheduler.Interval())
	fmt.Printf("Backup: last %s, next due %s\n", humanize.Time(last), humanize.Time(next))
	return nil
}

func printCycleReport(w io.Writer, report models.CycleReport) {
	uploaded, downloaded := "Uploaded:", "Downloaded:"
	if report.DryRun {
		fmt.Fprintf(w, "Dry run completed in %s, no files were transferred:\n", utils.FormatDuration(report.Duration))
		uploaded, downloaded = "Would upload:", "Would download:"
	} else {
		fmt.Fprintf(w, "Sync completed in %s:\n", utils.FormatDuration(report.Duration))
	}
	fmt.Fprintf(w, "- %-15s %d\n", uploaded, report.Uploaded)
	fmt.Fprintf(w, "- %-15s %d\n", downloaded, report.Downloaded)
	fmt.Fprintf(w, "- %-15s %d\n", "Unchanged:", report.Unchanged)
	fmt.Fprintf(w, "- %-15s %d\n", "Missing:", report.Missing)
	fmt.Fprintf(w, "- %-15s %d\n", "Failed:", report.Failed)
}

func relative(m models.ModTime) string {
	if !m.Exists {
		return "absent"
	}
	return humanize.Time(m.Time)
}
