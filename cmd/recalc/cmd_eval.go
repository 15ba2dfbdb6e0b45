package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

func newEvalCmd(a *app) *cobra.Command {
	var (
		assignments []string
		save        bool
	)
	cmd := &cobra.Command{
		Use:   "eval [address...]",
		Short: "Print computed cell values",
		Long: `Loads every sheet file of the directory and prints the computed value of
each address, one per line. Without addresses every non-empty cell of every
sheet is printed. --set writes cells before anything is printed.`,
		Example: `  recalc eval --dir sheets Summary!B2
  recalc eval --dir sheets --set Inputs!A1=12 --set "B1==A1*2" --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			workbook, loader, err := a.openWorkbook(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range assignments {
				address, value, err := parseAssignment(s)
				if err != nil {
					return err
				}
				if err := workbook.Set(address, value); err != nil {
					return fmt.Errorf("set %s: %w", address, err)
				}
			}
			if save {
				for _, name := range workbook.ListSheets() {
					grid, _ := workbook.Registry().Lookup(name)
					if err := loader.Save(grid); err != nil {
						return fmt.Errorf("save %s: %w", name, err)
					}
				}
			}

			addresses := args
			if len(addresses) == 0 {
				for _, name := range workbook.ListSheets() {
					grid, _ := workbook.Registry().Lookup(name)
					addresses = append(addresses, sheetCells(grid)...)
				}
			}
			return printValues(cmd.OutOrStdout(), workbook, addresses)
		},
	}
	cmd.Flags().StringArrayVar(&assignments, "set", nil, "write ADDRESS=VALUE before printing, repeatable")
	cmd.Flags().BoolVar(&save, "save", false, "write changed sheets back to their files")
	return cmd
}

func printValues(w io.Writer, workbook *spreadsheet.Workbook, addresses []string) error {
	for _, address := range addresses {
		value, err := workbook.Get(address)
		if err != nil {
			return fmt.Errorf("get %s: %w", address, err)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", address, display(value)); err != nil {
			return err
		}
	}
	return nil
}
