package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/case-review/backend/internal/analyzer"
	"github.com/case-review/backend/internal/middleware/validation"
	"github.com/case-review/backend/internal/references"
	"github.com/case-review/backend/internal/storage/models"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <case-number>",
	Short: "Run every analyzer on one case and store the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var bucketiseCmd = &cobra.Command{
	Use:   "bucketise <case-number>",
	Short: "Classify one case into a review bucket without storing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runBucketise,
}

var relevanceCmd = &cobra.Command{
	Use:   "relevance <kb|jira> <case-number>",
	Short: "Score the KB articles or JIRA defects linked to one case",
	Args:  cobra.ExactArgs(2),
	RunE:  runRelevance,
}

func caseArg(s string) (string, error) {
	if !validation.ValidCaseNumber(s) {
		return "", fmt.Errorf("invalid case number %q", s)
	}
	return s, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	caseNumber, err := caseArg(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	analysis, err := a.Service.AnalyzeCase(ctx, caseNumber)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, analysis)
}

func runBucketise(cmd *cobra.Command, args []string) error {
	caseNumber, err := caseArg(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Service.BucketiseCase(ctx, caseNumber)
	if err != nil {
		return err
	}
	printWarnings(result.Warnings)
	return printJSON(os.Stdout, result.Value)
}

func runRelevance(cmd *cobra.Command, args []string) error {
	caseNumber, err := caseArg(args[1])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var validate func(context.Context, string) (*analyzer.Result[*models.RelevanceVerdict], error)
	switch args[0] {
	case references.SourceKB:
		validate = a.Service.ValidateKBRelevance
	case references.SourceJIRA:
		validate = a.Service.ValidateJIRARelevance
	default:
		return fmt.Errorf("unknown reference source %q (want kb or jira)", args[0])
	}

	result, err := validate(ctx, caseNumber)
	if err != nil {
		return err
	}
	printWarnings(result.Warnings)
	return printJSON(os.Stdout, result.Value)
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
}
