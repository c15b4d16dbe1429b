package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenMined/syftbox-go/internal/changedetector"
	"github.com/OpenMined/syftbox-go/internal/hashutil"
	"github.com/OpenMined/syftbox-go/internal/store"
	"github.com/OpenMined/syftbox-go/internal/syncclient"
	"github.com/OpenMined/syftbox-go/internal/syncqueue"
)

// statusReport is what "syftbox status" prints, as text or JSON.
type statusReport struct {
	Email         string `json:"email"`
	ServerURL     string `json:"server_url"`
	WorkspaceRoot string `json:"workspace_root"`
	DaemonRunning bool   `json:"daemon_running"`
	Paused        bool   `json:"paused"`
	TrackedFiles  int    `json:"tracked_files"`
	Datasites     int    `json:"datasites"`
	PendingPush   int    `json:"pending_push"`
	PendingPull   int    `json:"pending_pull"`
	PendingDelete int    `json:"pending_delete"`
	DeadLetters   int    `json:"dead_letters"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state: tracked files, pending changes, daemon state",
		Long: `Report the local participant's configuration, whether a "sync --watch"
daemon is running and paused, how many files the metadata store tracks, and
a freshly-computed count of changes the next cycle would act on.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			report, err := buildStatusReport(cmd.Context(), cc)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printStatusJSON(report)
			}

			printStatusText(report)

			return nil
		},
	}
}

func buildStatusReport(ctx context.Context, cc *CLIContext) (statusReport, error) {
	report := statusReport{
		Email:         cc.Cfg.Email.String(),
		ServerURL:     cc.Cfg.ServerURL,
		WorkspaceRoot: cc.Cfg.WorkspaceRoot,
		Paused:        isPaused(cc.Cfg.DataDir),
	}

	if pid, err := readPIDFile(pidFilePath(cc.Cfg.DataDir)); err == nil {
		if proc, findErr := os.FindProcess(pid); findErr == nil && proc.Signal(syscall.Signal(0)) == nil {
			report.DaemonRunning = true
		}
	}

	dbPath := filepath.Join(cc.Cfg.DataDir, "syftbox.db")

	st, err := store.Open(ctx, dbPath, cc.Logger)
	if err != nil {
		return report, fmt.Errorf("opening metadata store: %w", err)
	}
	defer st.Close()

	datasites, err := st.ListDatasites(ctx)
	if err != nil {
		return report, fmt.Errorf("listing datasites: %w", err)
	}

	report.Datasites = len(datasites)

	tree := newFilesystemTree(cc.Cfg.WorkspaceRoot, st)
	client := syncclient.New(cc.Cfg.ServerURL, cc.Cfg.Email)
	queue := syncqueue.New()

	selfDatasite := cc.Cfg.Email.String()
	if selfDatasite != "" && !containsString(datasites, selfDatasite) {
		datasites = append(datasites, selfDatasite)
	}

	for _, ds := range datasites {
		tracked, err := tree.TrackedPaths(ctx, ds)
		if err != nil {
			cc.Logger.Warn("status: listing tracked paths failed", "datasite", ds, "error", err)
			continue
		}

		report.TrackedFiles += len(tracked)

		dir := "datasites/" + ds

		remote, err := client.DirState(ctx, dir)
		if err != nil {
			cc.Logger.Warn("status: fetching remote dir state failed", "datasite", ds, "error", err)
			continue
		}

		descs, scanErrs, err := hashutil.ScanTree(ctx, filepath.Join(cc.Cfg.WorkspaceRoot, dir))
		if err != nil {
			cc.Logger.Warn("status: scanning local tree failed", "datasite", ds, "error", err)
			continue
		}

		for _, se := range scanErrs {
			cc.Logger.Debug("status: skipping unreadable file", "path", se.Path, "error", se.Cause)
		}

		local := make(map[string]hashutil.Descriptor, len(descs))
		for _, d := range descs {
			local[d.RelPath] = d
		}

		events := changedetector.Detect(local, tracked, remote, time.Now())
		for _, e := range events {
			sizeBytes := int64(0)
			if d, ok := local[e.Path]; ok {
				sizeBytes = d.SizeBytes
			}

			queue.Push(changedetector.QueueEntry(e, sizeBytes))
		}
	}

	for {
		entry, ok := queue.Pop(time.Now())
		if !ok {
			break
		}

		switch {
		case entry.Kind == syncqueue.KindDelete:
			report.PendingDelete++
		case entry.Direction == syncqueue.Push:
			report.PendingPush++
		default:
			report.PendingPull++
		}
	}

	report.DeadLetters = len(queue.DeadLetters())

	return report, nil
}

func containsString(items []string, target string) bool {
	for _, it := range items {
		if it == target {
			return true
		}
	}

	return false
}

func printStatusJSON(report statusReport) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(report statusReport) {
	fmt.Printf("Email:         %s\n", report.Email)
	fmt.Printf("Server:        %s\n", report.ServerURL)
	fmt.Printf("Workspace:     %s\n", report.WorkspaceRoot)
	fmt.Printf("Daemon:        %s\n", daemonStateLabel(report))
	fmt.Printf("Datasites:     %d\n", report.Datasites)
	fmt.Printf("Tracked files: %d\n", report.TrackedFiles)
	fmt.Printf("Pending push:  %d\n", report.PendingPush)
	fmt.Printf("Pending pull:  %d\n", report.PendingPull)
	fmt.Printf("Pending del:   %d\n", report.PendingDelete)
	fmt.Printf("Dead letters:  %d\n", report.DeadLetters)
}

func daemonStateLabel(report statusReport) string {
	switch {
	case !report.DaemonRunning:
		return "not running"
	case report.Paused:
		return "running, paused"
	default:
		return "running"
	}
}
