package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vogtb/go-spreadsheet/packages/codec"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		addresses   []string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload sheet files as they change and print the values that follow",
		Long: `Loads every sheet file of the directory, then reloads a sheet each time its
file is written. Dependent formulas on every sheet are invalidated by the
reload. Deleting a file unregisters its sheet, so formulas naming it read
#REF! until it comes back. The --print addresses are printed after loading
and after every change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			workbook, loader, err := a.openWorkbook(ctx)
			if err != nil {
				return err
			}

			if metricsAddr == "" && a.cfg.Metrics.Enabled {
				metricsAddr = a.cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				stop := serveMetrics(ctx, metricsAddr, a.logger)
				defer stop()
			}

			w := &sheetWatcher{
				workbook:  workbook,
				loader:    loader,
				addresses: addresses,
				out:       cmd.OutOrStdout(),
				logger:    a.logger,
			}
			if err := w.print(); err != nil {
				return err
			}
			return w.run(ctx, a.cfg.Workbook.Dir)
		},
	}
	cmd.Flags().StringArrayVar(&addresses, "print", nil, "address to print after every change, repeatable")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// serveMetrics exposes /metrics until ctx ends or stop is called
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) (stop func()) {
	server := &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.InfoContext(ctx, "serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "metrics server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

// sheetWatcher applies file system events to the registry. events are
// handled one at a time on the goroutine calling run.
type sheetWatcher struct {
	workbook  *spreadsheet.Workbook
	loader    *codec.DirLoader
	addresses []string
	out       io.Writer
	logger    *slog.Logger
}

func (w *sheetWatcher) run(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.InfoContext(ctx, "watching sheet directory", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			changed, err := w.handle(ctx, event)
			if err != nil {
				w.logger.WarnContext(ctx, "sheet file not applied", "path", event.Name, "error", err)
				continue
			}
			if changed {
				if err := w.print(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "watcher error", "error", err)
		}
	}
}

// handle applies one event and reports whether any sheet changed
func (w *sheetWatcher) handle(ctx context.Context, event fsnotify.Event) (bool, error) {
	name, ok := w.loader.SheetName(event.Name)
	if !ok {
		return false, nil
	}
	registry := w.workbook.Registry()

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if _, err := w.loader.Reload(ctx, event.Name, registry); err != nil {
			return false, err
		}
		return true, nil
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if !registry.Contains(name) {
			return false, nil
		}
		if err := w.workbook.RemoveSheet(name); err != nil {
			return false, err
		}
		w.logger.InfoContext(ctx, "sheet file removed", "sheet", name)
		return true, nil
	}
	return false, nil
}

func (w *sheetWatcher) print() error {
	if len(w.addresses) == 0 {
		return nil
	}
	if err := printValues(w.out, w.workbook, w.addresses); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w.out)
	return err
}
