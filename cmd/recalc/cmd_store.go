package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vogtb/go-spreadsheet/packages/codec"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"github.com/vogtb/go-spreadsheet/packages/store"
)

func (a *app) openStore(path string) (*store.Store, error) {
	cfg := store.Config{
		Path:       a.cfg.Store.Path,
		InMemory:   a.cfg.Store.InMemory,
		SyncWrites: a.cfg.Store.SyncWrites,
		Logger:     a.logger,
	}
	if path != "" {
		cfg.Path = path
		cfg.InMemory = false
	}
	return store.Open(cfg)
}

func newSnapshotCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save every sheet file of the directory into the snapshot store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			workbook, _, err := a.openWorkbook(ctx)
			if err != nil {
				return err
			}
			s, err := a.openStore(path)
			if err != nil {
				return err
			}
			defer s.Close()

			var grids []*spreadsheet.Grid
			for _, name := range workbook.ListSheets() {
				grid, _ := workbook.Registry().Lookup(name)
				grids = append(grids, grid)
			}
			if err := s.SaveAll(ctx, grids...); err != nil {
				return err
			}
			for _, grid := range grids {
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", grid.Name())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "store", "", "snapshot database directory, overrides store.path")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "restore [sheet...]",
		Short: "Write snapshotted sheets back to sheet files",
		Long: `Restores sheets from the snapshot store into the directory, one file per
sheet. Without arguments every snapshotted sheet is restored. Existing files
are overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := os.MkdirAll(a.cfg.Workbook.Dir, 0o755); err != nil {
				return err
			}
			s, err := a.openStore(path)
			if err != nil {
				return err
			}
			defer s.Close()

			loader := a.loader()
			if len(args) == 0 {
				if args, err = s.Sheets(ctx); err != nil {
					return err
				}
			}
			for _, name := range args {
				doc, err := s.Load(ctx, name)
				if err != nil {
					return err
				}
				if err := writeDocument(loader.Path(doc.Name), doc); err != nil {
					return err
				}
				saved, err := s.SavedAt(ctx, name)
				if err != nil {
					return err
				}
				a.logger.InfoContext(ctx, "sheet restored", "sheet", doc.Name, "saved_at", saved)
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", doc.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "store", "", "snapshot database directory, overrides store.path")
	return cmd
}

func writeDocument(path string, doc *codec.Document) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := codec.Write(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
