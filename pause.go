package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// pauseFileName is the flag file a running "sync --watch" daemon polls each
// cycle; its mere presence means "skip this cycle."
const pauseFileName = "paused"

func pauseFilePath(dataDir string) string {
	return filepath.Join(dataDir, pauseFileName)
}

// isPaused reports whether the pause flag file exists.
func isPaused(dataDir string) bool {
	_, err := os.Stat(pauseFilePath(dataDir))
	return err == nil
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sync.pid")
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the sync loop",
		Long: `Create a flag file that a running "syftbox sync --watch" daemon polls
each cycle. While present, the daemon skips scanning and draining the queue
but keeps running so it can pick back up the moment the file is removed.

Does not stop an in-flight cycle, and has no effect on one-shot
"syftbox sync" (without --watch), which always runs exactly once.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := os.MkdirAll(cc.Cfg.DataDir, pidDirPermissions); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}

			if err := os.WriteFile(pauseFilePath(cc.Cfg.DataDir), nil, pidFilePermissions); err != nil {
				return fmt.Errorf("creating pause flag: %w", err)
			}

			if err := sendSIGHUP(pidFilePath(cc.Cfg.DataDir)); err == nil {
				cc.Statusf("Paused. Notified running daemon.\n")
			} else {
				cc.Statusf("Paused.\n")
			}

			return nil
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused sync loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := os.Remove(pauseFilePath(cc.Cfg.DataDir)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing pause flag: %w", err)
			}

			if err := sendSIGHUP(pidFilePath(cc.Cfg.DataDir)); err == nil {
				cc.Statusf("Resumed. Notified running daemon.\n")
			} else {
				cc.Statusf("Resumed.\n")
			}

			return nil
		},
	}
}
