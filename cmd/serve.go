package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/litehook/litehook/pkg/api"
	"github.com/litehook/litehook/pkg/config"
	"github.com/litehook/litehook/pkg/supervisor"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the listener supervisor and control-plane API",
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"))
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sup, err := supervisor.New(cfg)
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	defer func() {
		if err := sup.Close(); err != nil {
			fmt.Printf("Warning: failed to close store: %v\n", err)
		}
	}()

	if len(cfg.Channels) > 0 {
		if err := sup.SeedChannels(cfg.Channels); err != nil {
			return fmt.Errorf("seeding channels: %w", err)
		}
	}

	supDone := make(chan error, 1)
	go func() {
		supDone <- sup.Run()
	}()

	apiServer := api.NewServer(sup)
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.CorsMiddleware(mux),
	}
	httpDone := make(chan error, 1)
	go func() {
		log.Printf("Control plane listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpDone <- err
			return
		}
		httpDone <- nil
	}()

	// Signal handling - SIGHUP reloads the global config
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Watch the config file so global-config edits reach live listeners
	// without a restart.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Warning: failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Printf("Warning: failed to close config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			log.Printf("Warning: failed to watch config file %s: %v", configPath, err)
		} else {
			log.Printf("Watching config file for changes: %s", configPath)
		}
	}

	reload := func() {
		newCfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("Config reload failed: %v", err)
			return
		}
		sup.UpdateGlobalConfig(newCfg.Global)
		log.Printf("Global config reloaded")
	}

	for {
		var events chan fsnotify.Event
		var watchErrs chan error
		if watcher != nil {
			events = watcher.Events
			watchErrs = watcher.Errors
		}

		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Printf("Received SIGHUP, reloading global config")
				reload()
				continue
			}
			log.Printf("Received %v, shutting down...", sig)
			sup.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: http shutdown: %v", err)
			}
			cancel()

			if err := <-supDone; err != nil {
				return fmt.Errorf("supervisor: %w", err)
			}
			return <-httpDone

		case event := <-events:
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				reload()
			}

		case err := <-watchErrs:
			log.Printf("Warning: config watcher error: %v", err)

		case err := <-supDone:
			// Supervisor exited on its own (mailbox closed); shut the
			// control plane down too.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
				log.Printf("Warning: http shutdown: %v", serr)
			}
			cancel()
			return err
		}
	}
}
