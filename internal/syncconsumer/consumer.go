// Package syncconsumer implements the Sync Consumer component (spec §4.8):
// it drains the sync queue and, for each entry, performs the push/pull
// action its kind and direction call for.
package syncconsumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/OpenMined/syftbox-go/internal/deltacodec"
	"github.com/OpenMined/syftbox-go/internal/hashutil"
	"github.com/OpenMined/syftbox-go/internal/store"
	"github.com/OpenMined/syftbox-go/internal/syncclient"
	"github.com/OpenMined/syftbox-go/internal/syncerr"
	"github.com/OpenMined/syftbox-go/internal/syncqueue"
)

// LocalTree is the subset of local disk + metadata operations the consumer
// needs: reading and writing file bytes under the snapshot root, and
// keeping the local metadata store in step with what's on disk.
type LocalTree interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	RemoveFile(path string) error
	UpsertRecord(ctx context.Context, rec store.FileRecord) error
	DeleteRecord(ctx context.Context, path string) error
}

// Transport is the subset of syncclient.Client the consumer drives. A
// narrow interface here, rather than the concrete client, is what lets
// tests exercise the dispatch logic without a real HTTP server.
type Transport interface {
	GetMetadata(ctx context.Context, pathLike string) ([]syncclient.FileMetadata, error)
	GetDiff(ctx context.Context, path string, signature []byte) (syncclient.DiffResult, error)
	ApplyDiff(ctx context.Context, path string, diff []byte, expectedHash string) (syncclient.ApplyDiffResult, error)
	Create(ctx context.Context, path string, content []byte) error
	Delete(ctx context.Context, path string) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// Consumer drains a syncqueue.Queue against a remote Transport and a
// LocalTree, per spec.md §4.8's dispatch table.
type Consumer struct {
	queue  *syncqueue.Queue
	client Transport
	local  LocalTree
	logger *slog.Logger
}

// New constructs a Consumer.
func New(queue *syncqueue.Queue, client Transport, local LocalTree, logger *slog.Logger) *Consumer {
	return &Consumer{queue: queue, client: client, local: local, logger: logger}
}

// ConsumeAll repeatedly pops the highest-priority eligible entry and
// dispatches it until the queue has nothing left to offer right now, per
// spec.md §4.8. A Fatal error aborts the whole cycle immediately; any other
// per-entry error is logged and, if retryable, re-enqueued with backoff.
func (c *Consumer) ConsumeAll(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entry, ok := c.queue.Pop(time.Now())
		if !ok {
			return nil
		}

		if err := c.dispatch(ctx, entry); err != nil {
			if syncerr.IsFatal(err) {
				return err
			}

			c.logger.Warn("sync action failed", "path", entry.Path, "kind", entry.Kind, "error", err)

			if syncerr.IsRetryable(err) {
				c.queue.Requeue(entry, time.Now())
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, e *syncqueue.Entry) error {
	switch {
	case e.Kind == syncqueue.KindDelete && e.Direction == syncqueue.Push:
		return c.dispatchPushDelete(ctx, e.Path)
	case e.Kind == syncqueue.KindDelete:
		return c.dispatchPullDelete(ctx, e.Path)
	case e.Direction == syncqueue.Push:
		return c.push(ctx, e.Path)
	default:
		return c.pull(ctx, e.Path)
	}
}

// push implements the "push create / write" row of spec.md §4.8: compute
// the local hash, ask the server for its current metadata for the same
// path, and either upload the whole file (no prior server version, or the
// diff would be no smaller) or send a binary diff against the server's
// signature.
func (c *Consumer) push(ctx context.Context, path string) error {
	localData, err := c.local.ReadFile(path)
	if err != nil {
		return syncerr.Wrap(syncerr.ErrFatal, "push", path, err.Error())
	}

	localHash := hashutil.HashBytes(localData)

	meta, err := c.client.GetMetadata(ctx, path)
	if err != nil {
		return err
	}

	if len(meta) == 0 {
		if err := c.client.Create(ctx, path, localData); err != nil {
			return err
		}

		return c.local.UpsertRecord(ctx, store.FileRecord{Path: path, Hash: localHash, SizeBytes: int64(len(localData))})
	}

	remote, err := c.client.Download(ctx, path)
	if err != nil {
		return err
	}

	remoteSig, err := deltacodec.Signature(remote)
	if err != nil {
		return syncerr.Wrap(syncerr.ErrFatal, "push", path, err.Error())
	}

	diff, err := deltacodec.Diff(remoteSig, localData)
	if err != nil {
		return syncerr.Wrap(syncerr.ErrFatal, "push", path, err.Error())
	}

	if deltacodec.PreferFullUpload(len(diff), len(localData), true) {
		// The patch against the server's actual content isn't worth sending;
		// diff against an empty signature instead, so the patch carries the
		// whole file as literal data rather than copy-from-base references.
		// It still goes through apply_diff: a prior version exists remotely,
		// so create would conflict.
		emptySig, err := deltacodec.Signature(nil)
		if err != nil {
			return syncerr.Wrap(syncerr.ErrFatal, "push", path, err.Error())
		}

		diff, err = deltacodec.Diff(emptySig, localData)
		if err != nil {
			return syncerr.Wrap(syncerr.ErrFatal, "push", path, err.Error())
		}
	}

	result, err := c.client.ApplyDiff(ctx, path, diff, localHash)
	if err != nil {
		return err
	}

	return c.local.UpsertRecord(ctx, store.FileRecord{Path: path, Hash: result.CurrentHash, SizeBytes: int64(len(localData))})
}

// pull implements the "pull create / write" row of spec.md §4.8: send the
// local file's signature (empty if absent), apply the returned diff
// locally, verify the reconstructed hash, and update local metadata.
func (c *Consumer) pull(ctx context.Context, path string) error {
	localData, err := c.local.ReadFile(path)
	hasLocal := err == nil

	var sig []byte

	if hasLocal {
		s, err := deltacodec.Signature(localData)
		if err != nil {
			return syncerr.Wrap(syncerr.ErrFatal, "pull", path, err.Error())
		}

		sig = s
	}

	diffResult, err := c.client.GetDiff(ctx, path, sig)
	if err != nil {
		return err
	}

	var result []byte

	if !hasLocal {
		result = diffResult.Diff
	} else {
		applied, err := deltacodec.Apply(localData, diffResult.Diff)
		if err != nil {
			return err
		}

		result = applied
	}

	if hashutil.HashBytes(result) != diffResult.Hash {
		return syncerr.Wrap(syncerr.ErrHashMismatch, "pull", path, "reconstructed hash disagrees with server")
	}

	if err := c.local.WriteFile(path, result); err != nil {
		return syncerr.Wrap(syncerr.ErrFatal, "pull", path, err.Error())
	}

	return c.local.UpsertRecord(ctx, store.FileRecord{Path: path, Hash: diffResult.Hash, SizeBytes: int64(len(result))})
}

// dispatchPushDelete calls delete on the server and removes the local
// metadata record, per spec.md §4.8's "delete (push)" row.
func (c *Consumer) dispatchPushDelete(ctx context.Context, path string) error {
	if err := c.client.Delete(ctx, path); err != nil && !errors.Is(err, syncerr.ErrNotFound) {
		return err
	}

	return c.local.DeleteRecord(ctx, path)
}

// dispatchPullDelete removes the local file and its metadata record, per
// spec.md §4.8's "delete (pull)" row.
func (c *Consumer) dispatchPullDelete(ctx context.Context, path string) error {
	if err := c.local.RemoveFile(path); err != nil {
		return err
	}

	return c.local.DeleteRecord(ctx, path)
}
