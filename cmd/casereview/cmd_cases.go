package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/internal/storage/sqlite"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Load and inspect cases in the case store",
}

var casesLoadCmd = &cobra.Command{
	Use:   "load <file.json>...",
	Short: "Upsert cases from JSON files (one case or an array of cases per file)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCasesLoad,
}

var casesShowCmd = &cobra.Command{
	Use:   "show <case-number>",
	Short: "Print one stored case as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runCasesShow,
}

var casesListFlags selectionFlags

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored case numbers",
	Args:  cobra.NoArgs,
	RunE:  runCasesList,
}

func init() {
	casesListFlags.register(casesListCmd)
	casesListFlags.all = true
	casesListCmd.Flags().Lookup("all").Hidden = true

	casesCmd.AddCommand(casesLoadCmd)
	casesCmd.AddCommand(casesShowCmd)
	casesCmd.AddCommand(casesListCmd)
}

// openCaseStore opens only the case store. These commands never reach the
// LLM, so they do not require it to be configured.
func openCaseStore() (*sqlite.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	if err := client.InitSchema(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func decodeCases(data []byte) ([]*models.Case, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var cases []*models.Case
		if err := json.Unmarshal(data, &cases); err != nil {
			return nil, err
		}
		return cases, nil
	}

	var c models.Case
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return []*models.Case{&c}, nil
}

func runCasesLoad(cmd *cobra.Command, args []string) error {
	client, err := openCaseStore()
	if err != nil {
		return err
	}
	defer client.Close()

	loaded := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		cases, err := decodeCases(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, c := range cases {
			if c == nil || c.CaseNumber == "" {
				return fmt.Errorf("%s: case without caseNumber", path)
			}
			if err := client.UpsertCase(cmd.Context(), c); err != nil {
				return err
			}
			loaded++
		}
	}

	fmt.Fprintf(os.Stdout, "loaded %d cases\n", loaded)
	return nil
}

func runCasesShow(cmd *cobra.Command, args []string) error {
	caseNumber, err := caseArg(args[0])
	if err != nil {
		return err
	}

	client, err := openCaseStore()
	if err != nil {
		return err
	}
	defer client.Close()

	c, err := client.GetCase(cmd.Context(), caseNumber)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, c)
}

func runCasesList(cmd *cobra.Command, _ []string) error {
	client, err := openCaseStore()
	if err != nil {
		return err
	}
	defer client.Close()

	filter, err := casesListFlags.filter()
	if err != nil {
		return err
	}
	caseNumbers, err := client.ListCaseNumbers(cmd.Context(), filter)
	if err != nil {
		return err
	}
	for _, cn := range caseNumbers {
		fmt.Fprintln(os.Stdout, cn)
	}
	return nil
}
