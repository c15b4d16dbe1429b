// Package server implements the Sync Server API (spec §4.5 / §6): stateless
// HTTP handlers over the metadata store and snapshot tree, gated by the
// permission engine.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/OpenMined/syftbox-go/internal/email"
	"github.com/OpenMined/syftbox-go/internal/permissions"
	"github.com/OpenMined/syftbox-go/internal/store"
)

// Store is the subset of store.SQLiteStore the server handlers need.
type Store interface {
	GetFile(ctx context.Context, path string) (store.FileRecord, bool, error)
	UpsertFile(ctx context.Context, rec store.FileRecord) (store.FileRecord, error)
	DeleteFile(ctx context.Context, path string) error
	ListByPrefix(ctx context.Context, prefix string) ([]store.FileRecord, error)
	ListDatasites(ctx context.Context) ([]string, error)
	MoveAtomic(ctx context.Context, rec store.FileRecord, writeAndRename func() error) (store.FileRecord, error)
}

// Server wires the metadata store, permission engine, and snapshot tree
// into an HTTP handler implementing the Sync Server API.
type Server struct {
	store        Store
	permissions  *permissions.Engine
	snapshotRoot string
	logger       *slog.Logger
}

// New constructs a Server. snapshotRoot is the on-disk directory containing
// "datasites/" (spec.md §6's on-disk layout).
func New(st Store, perms *permissions.Engine, snapshotRoot string, logger *slog.Logger) *Server {
	return &Server{store: st, permissions: perms, snapshotRoot: snapshotRoot, logger: logger}
}

// Router builds the chi router exposing every endpoint in spec.md §6's
// HTTP surface table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(viewerFromHeader)

	r.Route("/sync", func(r chi.Router) {
		r.Post("/datasites", s.handleDatasites)
		r.Post("/dir_state", s.handleDirState)
		r.Post("/get_metadata", s.handleGetMetadata)
		r.Post("/get_diff", s.handleGetDiff)
		r.Post("/apply_diff", s.handleApplyDiff)
		r.Post("/create", s.handleCreate)
		r.Post("/delete", s.handleDelete)
		r.Post("/download", s.handleDownload)
	})

	return r
}

type viewerKey struct{}

// viewerFromHeader extracts the viewer identity from the "email" header.
// The mechanism that makes this header trustworthy (the HTTP transport's
// authentication middleware) is explicitly out of core — spec.md §1 — so
// this middleware only consumes an already-authenticated header value.
func viewerFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := email.New(r.Header.Get("email"))
		ctx := context.WithValue(r.Context(), viewerKey{}, addr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func viewerFrom(ctx context.Context) email.Address {
	addr, _ := ctx.Value(viewerKey{}).(email.Address)
	return addr
}
