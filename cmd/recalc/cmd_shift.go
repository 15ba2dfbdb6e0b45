package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

func newShiftCmd(a *app) *cobra.Command {
	var rows, cols int
	cmd := &cobra.Command{
		Use:   "shift formula",
		Short: "Print a formula as it reads after being pasted at an offset",
		Example: `  recalc shift "=SUM(A1:B2)+$C$1" --rows 2 --cols 1
  =SUM(B3:C4)+$C$1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shifted, err := spreadsheet.ShiftFormula(args[0], rows, cols)
			if err != nil {
				return err
			}
			a.logger.DebugContext(cmd.Context(), "formula shifted", "rows", rows, "cols", cols)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), shifted)
			return err
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 0, "rows to move down, negative moves up")
	cmd.Flags().IntVar(&cols, "cols", 0, "columns to move right, negative moves left")
	return cmd
}
