package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vogtb/go-spreadsheet/packages/codec"
	"github.com/vogtb/go-spreadsheet/packages/config"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// defaultConfigPath is read when --config is not given and the file exists
const defaultConfigPath = "recalc.yaml"

// app carries what every command needs once the configuration is loaded
type app struct {
	configPath string
	dir        string
	sheet      string

	cfg      config.Config
	logger   *slog.Logger
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "recalc",
		Short:         "Evaluate and watch directories of sheet files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "configuration file (default "+defaultConfigPath+" when present)")
	flags.StringVar(&a.dir, "dir", "", "directory holding the sheet files")
	flags.StringVar(&a.sheet, "sheet", "", "sheet that plain addresses refer to")

	root.AddCommand(
		newEvalCmd(a),
		newShiftCmd(a),
		newWatchCmd(a),
		newSnapshotCmd(a),
		newRestoreCmd(a),
	)
	return root
}

// setup loads the configuration, applies flag overrides and installs the
// logger and tracer provider
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.dir != "" {
		cfg.Workbook.Dir = a.dir
	}
	if a.sheet != "" {
		cfg.Workbook.DefaultSheet = a.sheet
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Logging.NewLogger(cmd.ErrOrStderr())

	if cfg.Tracing.Exporter == "stdout" {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()))
		if err != nil {
			return fmt.Errorf("create exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		otel.SetTracerProvider(tp)
		a.shutdown = tp.Shutdown
	}
	return nil
}

func (a *app) loadConfig() (config.Config, error) {
	if a.configPath != "" {
		return config.Load(a.configPath)
	}
	cfg, err := config.Load(defaultConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func (a *app) loader() *codec.DirLoader {
	return codec.NewDirLoader(a.cfg.Workbook.Dir, a.cfg.Workbook.Extension, a.logger)
}

// openWorkbook registers every sheet file of the directory. sheets the
// files reference but that have no file yet are loaded on demand.
func (a *app) openWorkbook(ctx context.Context) (*spreadsheet.Workbook, *codec.DirLoader, error) {
	if _, err := os.Stat(a.cfg.Workbook.Dir); err != nil {
		return nil, nil, fmt.Errorf("sheet directory: %w", err)
	}
	loader := a.loader()
	registry := spreadsheet.NewRegistry(spreadsheet.WithLoader(loader), spreadsheet.WithLogger(a.logger))
	if _, err := loader.LoadAll(ctx, registry); err != nil {
		return nil, nil, err
	}
	workbook := spreadsheet.NewWorkbookWithRegistry(registry)
	if registry.Contains(a.cfg.Workbook.DefaultSheet) {
		if err := workbook.SetDefaultSheet(a.cfg.Workbook.DefaultSheet); err != nil {
			return nil, nil, err
		}
	}
	return workbook, loader, nil
}
