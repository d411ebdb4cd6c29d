package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import [schema-file]",
	Short: "Import or upgrade a schema and create its tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadSchema(args[0])
		if err != nil {
			return err
		}
		if importDryRun {
			eng, err := openMemory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d classes\n", doc.Schema.Name, eng.Schema().Len())
			return nil
		}

		eng, _, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		res, err := eng.ImportSchema(cmd.Context(), &doc.Schema)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, q := range res.DDL {
			fmt.Fprintf(out, "%s;\n", q)
		}
		fmt.Fprintf(out, "imported %s (%s): %d classes, %d statements\n", doc.Schema.Name, res.ID, res.Classes, len(res.DDL))
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate against an in-memory database only")
	rootCmd.AddCommand(importCmd)
}
