package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/OpenMined/syftbox-go/internal/permissions"
	"github.com/OpenMined/syftbox-go/internal/server"
	"github.com/OpenMined/syftbox-go/internal/store"
)

func newServeCmd() *cobra.Command {
	var flagAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server's HTTP API",
		Long: `Start the Sync Server API over the metadata store and snapshot tree
rooted at the configured workspace, gated by the permission engine.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			dbPath := filepath.Join(cc.Cfg.DataDir, "syftbox.db")

			st, err := store.Open(ctx, dbPath, cc.Logger)
			if err != nil {
				return fmt.Errorf("opening metadata store: %w", err)
			}
			defer st.Close()

			if err := permissions.MigrateSnapshot(cc.Cfg.WorkspaceRoot, cc.Logger); err != nil {
				return fmt.Errorf("migrating legacy permission files: %w", err)
			}

			perms, err := permissions.NewEngineLoaded(st)
			if err != nil {
				return fmt.Errorf("loading permission rules: %w", err)
			}

			srv := server.New(st, perms, cc.Cfg.WorkspaceRoot, cc.Logger)

			httpServer := &http.Server{
				Addr:    flagAddr,
				Handler: srv.Router(),
			}

			cc.Logger.Info("sync server listening", "addr", flagAddr, "snapshot_root", cc.Cfg.WorkspaceRoot)

			errCh := make(chan error, 1)

			go func() {
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("server: %w", err)
				}

				return nil
			case <-ctx.Done():
				cc.Logger.Info("shutting down server")
				return httpServer.Shutdown(context.Background())
			}
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", ":8080", "address to listen on")

	return cmd
}
