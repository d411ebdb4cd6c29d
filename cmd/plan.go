package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/agentic-research/classmap/internal/engine"
	"github.com/agentic-research/classmap/internal/layout"
)

var (
	planDump bool
	planSQL  bool
)

var planCmd = &cobra.Command{
	Use:   "plan [schema-file]",
	Short: "Show the table layout of a schema without touching a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openMemory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		out := cmd.OutOrStdout()
		s := eng.Schema()
		for _, root := range s.Roots() {
			plan, err := eng.Plan(s.Class(root).Name)
			if err != nil {
				return err
			}
			if planDump {
				spew.Fdump(out, plan)
				continue
			}
			printPlan(out, eng, plan)
		}
		return nil
	},
}

func printPlan(w io.Writer, eng *engine.Engine, plan *layout.Plan) {
	s := eng.Schema()
	fmt.Fprintf(w, "%s (%s)\n", s.Class(plan.Root).Name, plan.Strategy())
	for _, t := range plan.Tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
		}
		fmt.Fprintf(w, "  table %s [%s] (%s)\n", t.Name, t.Kind, strings.Join(cols, ", "))
	}
	for _, id := range plan.ClassIDs() {
		cm := plan.Classes[id]
		fmt.Fprintf(w, "  class %s\n", s.Class(id).Name)
		for _, b := range cm.Bindings {
			fmt.Fprintf(w, "    %-20s %-10s %s.%s\n", b.Property, b.Type, plan.Tables[b.Table].Name, strings.Join(b.Columns, ","))
		}
		for _, p := range cm.Unsupported {
			fmt.Fprintf(w, "    %-20s unsupported\n", p)
		}
		if !planSQL {
			continue
		}
		stmts, err := eng.Statements(s.Class(id).Name)
		if err != nil {
			fmt.Fprintf(w, "    error: %v\n", err)
			continue
		}
		for _, q := range append(append(stmts.Insert, stmts.Update...), stmts.Delete...) {
			fmt.Fprintf(w, "    %s\n", q)
		}
		for _, q := range []string{stmts.Select, stmts.SelectOnly, stmts.SelectParam} {
			if q != "" {
				fmt.Fprintf(w, "    %s\n", q)
			}
		}
	}
}

func init() {
	planCmd.Flags().BoolVar(&planDump, "dump", false, "Dump the raw plan structures")
	planCmd.Flags().BoolVar(&planSQL, "sql", false, "Also print each class's statements")
	rootCmd.AddCommand(planCmd)
}
