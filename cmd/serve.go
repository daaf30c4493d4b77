package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memsearchd/memsearchd/internal/config"
	"github.com/memsearchd/memsearchd/internal/ipc"
	"github.com/memsearchd/memsearchd/internal/repository"
	"github.com/memsearchd/memsearchd/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memsearchd daemon",
	Long:  "Run the resident daemon: accept clients on the request socket, bind them to repositories, and answer searches until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		configureLogging()

		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		registry := repository.NewRegistry(repository.Options{
			WatcherFactory:  watcher.NewFSNotifyWatcher,
			CoalesceWindow:  cfg.CoalesceWindow(),
			FileSizeCeiling: cfg.MaxFileSizeBytes,
			IdleGrace:       cfg.RepoIdleGrace(),
		})

		srv := ipc.NewServer(cfg.IPCConfig(), registry)

		if debug {
			log.Printf("memsearchd: listening on %s", cfg.RequestSocketPath)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe(ctx) }()

		select {
		case <-ctx.Done():
			log.Printf("memsearchd: shutting down")
		case err := <-errCh:
			if err != nil {
				log.Fatalf("memsearchd: fatal: %v", err)
			}
		}

		srv.Shutdown()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
