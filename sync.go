package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenMined/syftbox-go/internal/store"
	"github.com/OpenMined/syftbox-go/internal/syncclient"
	"github.com/OpenMined/syftbox-go/internal/syncconsumer"
	"github.com/OpenMined/syftbox-go/internal/syncerr"
	"github.com/OpenMined/syftbox-go/internal/syncmanager"
	"github.com/OpenMined/syftbox-go/internal/syncqueue"
)

func newSyncCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local workspace with the sync server",
		Long: `Run one sync cycle: scan the local workspace, compare against the
server's view, classify changes, and drain the resulting actions.

With --watch, runs cycles on the configured interval until interrupted,
holding a PID file lock so only one daemon runs per data directory at a time.
A running --watch daemon skips a cycle entirely while "syftbox pause" is in
effect.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if flagWatch {
				return runSyncWatch(cmd.Context(), cc)
			}

			return runSyncOnce(cmd.Context(), cc)
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "run continuously on the configured interval")

	return cmd
}

// buildSyncCore opens the metadata store and assembles the manager shared by
// one-shot and --watch sync. Caller must close the returned store.
func buildSyncCore(ctx context.Context, cc *CLIContext) (*syncmanager.Manager, *store.SQLiteStore, error) {
	dbPath := filepath.Join(cc.Cfg.DataDir, "syftbox.db")

	st, err := store.Open(ctx, dbPath, cc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening metadata store: %w", err)
	}

	client := syncclient.New(cc.Cfg.ServerURL, cc.Cfg.Email)
	tree := newFilesystemTree(cc.Cfg.WorkspaceRoot, st)
	queue := syncqueue.New()
	consumer := syncconsumer.New(queue, client, tree, cc.Logger)

	mgr := syncmanager.New(cc.Cfg.Email, cc.Cfg.WorkspaceRoot, cc.Cfg.SyncInterval, client, tree, consumer, queue, cc.Logger, nil)

	return mgr, st, nil
}

func runSyncOnce(ctx context.Context, cc *CLIContext) error {
	mgr, st, err := buildSyncCore(ctx, cc)
	if err != nil {
		return err
	}
	defer st.Close()

	start := time.Now()

	if err := mgr.RunOnce(ctx); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}

	cc.Statusf("Sync complete (%s)\n", time.Since(start).Round(time.Millisecond))

	return nil
}

// runSyncWatch implements the --watch daemon: a PID-file-locked process
// that runs sync cycles on the configured interval, skipping a cycle
// entirely while the pause flag file is present, until a shutdown signal
// arrives.
func runSyncWatch(ctx context.Context, cc *CLIContext) error {
	cleanup, err := writePIDFile(pidFilePath(cc.Cfg.DataDir))
	if err != nil {
		return err
	}
	defer cleanup()

	mgr, st, err := buildSyncCore(ctx, cc)
	if err != nil {
		return err
	}
	defer st.Close()

	runCtx := shutdownContext(ctx, cc.Logger)

	hup := sighupChannel()
	defer signal.Stop(hup)

	cc.Logger.Info("sync watch starting", "interval", cc.Cfg.SyncInterval, "workspace", cc.Cfg.WorkspaceRoot)

	ticker := time.NewTicker(cc.Cfg.SyncInterval)
	defer ticker.Stop()

	for {
		if isPaused(cc.Cfg.DataDir) {
			cc.Logger.Debug("sync cycle skipped: paused")
		} else if err := mgr.RunOnce(runCtx); err != nil {
			if syncerr.IsFatal(err) {
				return fmt.Errorf("sync cycle: %w", err)
			}

			cc.Logger.Warn("sync cycle failed", "error", err)
		}

		select {
		case <-runCtx.Done():
			cc.Statusf("Sync stopped.\n")
			return nil
		case <-ticker.C:
		case <-hup:
		}
	}
}
