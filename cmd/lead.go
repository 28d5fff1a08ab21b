package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-relay/internal/ingest"
	"github.com/sells-group/lead-relay/internal/model"
)

var (
	leadDryRun bool
	leadOutput string
)

var leadCmd = &cobra.Command{
	Use:   "lead <id>",
	Short: "Replay a single lead through the relay",
	Long:  "Fetches one lead from the CRM and delivers it to every sink, as if its status webhook had fired. With --dry-run the normalized record is printed and nothing is delivered.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leadID, err := parseLeadID(args[0])
		if err != nil {
			return err
		}
		if leadOutput != "json" && leadOutput != "yaml" {
			return eris.Errorf("unsupported output format %q (want json or yaml)", leadOutput)
		}

		scope := "serve"
		if leadDryRun {
			scope = "lead"
		}
		if err := cfg.Validate(scope); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initRelay(ctx, !leadDryRun)
		if err != nil {
			return err
		}
		defer env.Close()

		if leadDryRun {
			out, stage, err := env.Ingestor.Resolve(ctx, leadID)
			if err != nil {
				return eris.Wrapf(err, "lead %d failed at %s", leadID, stage)
			}
			if !out.Accepted() {
				fmt.Fprintf(cmd.ErrOrStderr(), "lead %d would be filtered: branch %q\n", leadID, out.Branch)
			}
			return writeRecord(cmd.OutOrStdout(), out.Record, leadOutput)
		}

		res := env.Ingestor.Process(ctx, leadID)
		printResult(cmd.OutOrStdout(), res)
		if res.Status == ingest.StatusFailed {
			return res.Err
		}
		return nil
	},
}

func init() {
	leadCmd.Flags().BoolVar(&leadDryRun, "dry-run", false, "print the normalized record without delivering it")
	leadCmd.Flags().StringVarP(&leadOutput, "output", "o", "json", "record output format for --dry-run: json or yaml")
	rootCmd.AddCommand(leadCmd)
}

func parseLeadID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid lead id %q", s)
	}
	return id, nil
}

func writeRecord(w io.Writer, rec *model.Record, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return eris.Wrap(err, "encode record as yaml")
		}
		return eris.Wrap(enc.Close(), "flush yaml")
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return eris.Wrap(enc.Encode(rec), "encode record as json")
	default:
		return eris.Errorf("unsupported output format %q", format)
	}
}

func printResult(w io.Writer, res ingest.Result) {
	fmt.Fprintf(w, "lead %d: %s (%s)\n", res.LeadID, res.Status, res.Duration.Round(1e6))
	if res.Err != nil {
		fmt.Fprintf(w, "  %s: %v\n", res.Stage, res.Err)
	}
	names := make([]string, 0, len(res.SinkErrors))
	for name := range res.SinkErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  sink %s: %v\n", name, res.SinkErrors[name])
	}
}
