package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the schema imports applied to the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		list, err := eng.Imports(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, im := range list {
			fmt.Fprintf(out, "%s  %s  %-20s classes=%d statements=%d\n",
				im.At.Local().Format(time.DateTime), im.ID, im.Schema, im.Classes, im.Statements)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
