package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/juehai/sitebase/internal/query"
)

var checkCmd = &cobra.Command{
	Use:   "check <query>",
	Short: "Check the syntax of a search query",
	Long:  "Compile a search query expression and report grammar errors without touching the database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expr := strings.Join(args, " ")

		predicate, err := query.CompileQuery(expr)
		if err != nil {
			if gerr, ok := err.(*query.GrammarError); ok {
				printGrammarError(expr, gerr)
				os.Exit(1)
			}
			return err
		}

		color.New(color.FgGreen, color.Bold).Println("✓ query is valid")
		fmt.Printf("  condition: %s\n", predicate.SQL)
		if len(predicate.Args) > 0 {
			fmt.Printf("  arguments: %v\n", predicate.Args)
		}
		return nil
	},
}

// printGrammarError shows the expression with a caret under the offending
// position.
func printGrammarError(expr string, gerr *query.GrammarError) {
	errColor := color.New(color.FgRed, color.Bold)
	errColor.Fprintf(os.Stderr, "✗ %s\n", gerr.Message)
	fmt.Fprintf(os.Stderr, "  %s\n", expr)
	if gerr.Pos >= 0 && gerr.Pos <= len(expr) {
		fmt.Fprintf(os.Stderr, "  %s^\n", strings.Repeat(" ", gerr.Pos))
	}
}
