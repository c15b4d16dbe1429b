// Package syncmanager implements the Sync Manager component (spec §4.9):
// the driver loop that ties the change detector, sync queue, and sync
// consumer together into one cycle, run on a fixed interval.
package syncmanager

import (
	"context"
	"log/slog"
	"time"

	"github.com/OpenMined/syftbox-go/internal/changedetector"
	"github.com/OpenMined/syftbox-go/internal/email"
	"github.com/OpenMined/syftbox-go/internal/hashutil"
	"github.com/OpenMined/syftbox-go/internal/syncclient"
	"github.com/OpenMined/syftbox-go/internal/syncconsumer"
	"github.com/OpenMined/syftbox-go/internal/syncerr"
	"github.com/OpenMined/syftbox-go/internal/syncqueue"
)

// Tracker is the subset of local metadata the manager needs in order to
// tell the change detector what was previously synced, per spec.md §4.6's
// "local previously tracked" case.
type Tracker interface {
	TrackedPaths(ctx context.Context, datasite string) (map[string]changedetector.LocalRecord, error)
}

// Lister is the subset of the sync client the manager needs beyond what
// the consumer already drives: enumerating datasites and pulling one
// datasite's remote metadata.
type Lister interface {
	Datasites(ctx context.Context) ([]string, error)
	DirState(ctx context.Context, dir string) ([]syncclient.FileMetadata, error)
}

// Manager drives sync cycles on a fixed interval until stopped, per
// spec.md §4.9.
type Manager struct {
	self     email.Address
	workRoot string
	interval time.Duration

	lister   Lister
	tracker  Tracker
	consumer *syncconsumer.Consumer
	queue    *syncqueue.Queue
	logger   *slog.Logger

	wake chan struct{}
}

// New constructs a Manager. wakeEarly, if non-nil, is an optional channel
// the caller can send on (e.g. from an fsnotify watcher or a websocket
// push) to shortcut the wait before the next scheduled cycle — enrichment
// beyond spec.md's core interval-only loop; see DESIGN.md.
func New(self email.Address, workRoot string, interval time.Duration, lister Lister, tracker Tracker, consumer *syncconsumer.Consumer, queue *syncqueue.Queue, logger *slog.Logger, wakeEarly chan struct{}) *Manager {
	return &Manager{
		self:     self,
		workRoot: workRoot,
		interval: interval,
		lister:   lister,
		tracker:  tracker,
		consumer: consumer,
		queue:    queue,
		logger:   logger,
		wake:     wakeEarly,
	}
}

// Run drives sync cycles until ctx is cancelled, per spec.md §4.9: "Stops
// cleanly on a cancellation signal; a fatal error ... terminates the
// driver loop and is surfaced."
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.runCycle(ctx); err != nil {
			if syncerr.IsFatal(err) {
				m.logger.Error("sync manager stopping on fatal error", "error", err)
				return err
			}

			m.logger.Warn("sync cycle reported a non-fatal error", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-m.wakeChan():
		}
	}
}

// RunOnce performs exactly one sync cycle and returns, for a one-shot
// invocation (as opposed to Run's interval-driven loop).
func (m *Manager) RunOnce(ctx context.Context) error {
	return m.runCycle(ctx)
}

func (m *Manager) wakeChan() <-chan struct{} {
	if m.wake == nil {
		return nil
	}

	return m.wake
}

// runCycle performs one sync cycle: enumerate datasites (always including
// the viewer's own), run the change detector per datasite, feed the
// queue, and drain it.
func (m *Manager) runCycle(ctx context.Context) error {
	datasites, err := m.lister.Datasites(ctx)
	if err != nil {
		return err
	}

	if !containsEmail(datasites, m.self) {
		datasites = append(datasites, m.self.String())
	}

	for _, ds := range datasites {
		if err := m.syncDatasite(ctx, ds); err != nil {
			if syncerr.IsFatal(err) {
				return err
			}

			m.logger.Warn("datasite scan failed", "datasite", ds, "error", err)
		}
	}

	return m.consumer.ConsumeAll(ctx)
}

func (m *Manager) syncDatasite(ctx context.Context, datasite string) error {
	dir := "datasites/" + datasite

	remote, err := m.lister.DirState(ctx, dir)
	if err != nil {
		return err
	}

	descs, scanErrs, err := hashutil.ScanTree(ctx, m.workRoot+"/"+dir)
	if err != nil {
		return err
	}

	for _, se := range scanErrs {
		m.logger.Warn("skipping unreadable file during scan", "path", se.Path, "error", se.Cause)
	}

	local := make(map[string]hashutil.Descriptor, len(descs))
	for _, d := range descs {
		local[d.RelPath] = d
	}

	tracked, err := m.tracker.TrackedPaths(ctx, datasite)
	if err != nil {
		return err
	}

	events := changedetector.Detect(local, tracked, remote, time.Now())

	for _, e := range events {
		sizeBytes := int64(0)
		if d, ok := local[e.Path]; ok {
			sizeBytes = d.SizeBytes
		}

		m.queue.Push(changedetector.QueueEntry(e, sizeBytes))
	}

	return nil
}

func containsEmail(datasites []string, self email.Address) bool {
	if self.IsZero() {
		return true
	}

	for _, d := range datasites {
		if d == self.String() {
			return true
		}
	}

	return false
}
