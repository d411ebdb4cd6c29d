package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/classmap/internal/codegen"
	"github.com/agentic-research/classmap/internal/model"
)

var (
	genPackage string
	genOutput  string
)

var genCmd = &cobra.Command{
	Use:   "gen [schema-file]",
	Short: "Generate Go structs for the concrete classes of a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadSchema(args[0])
		if err != nil {
			return err
		}
		s, err := model.Apply(nil, &doc.Schema)
		if err != nil {
			return err
		}
		src, err := codegen.Generate(s, codegen.Options{Package: genPackage})
		if err != nil {
			return err
		}
		if genOutput == "" || genOutput == "-" {
			_, err = cmd.OutOrStdout().Write(src)
			return err
		}
		if err := os.WriteFile(genOutput, src, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", genOutput, err)
		}
		return nil
	},
}

func init() {
	genCmd.Flags().StringVarP(&genPackage, "package", "p", "models", "Package name of the generated file")
	genCmd.Flags().StringVarP(&genOutput, "output", "o", "", "Output file (stdout when empty)")
	rootCmd.AddCommand(genCmd)
}
