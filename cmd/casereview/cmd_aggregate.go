package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/case-review/backend/internal/aggregation"
)

var aggregateFlags struct {
	json bool
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Roll every stored analysis into the cross-case summary",
	Args:  cobra.NoArgs,
	RunE:  runAggregate,
}

func init() {
	aggregateCmd.Flags().BoolVar(&aggregateFlags.json, "json", false, "Print the summary as JSON instead of a text report")
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	agg, err := a.Service.Aggregate(ctx)
	if err != nil {
		return err
	}

	if aggregateFlags.json {
		return printJSON(os.Stdout, agg)
	}
	fmt.Fprint(os.Stdout, aggregation.Report(agg))
	return nil
}
