package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auctionintel/leadfinder/internal/export"
	"github.com/auctionintel/leadfinder/internal/lead"
	"github.com/auctionintel/leadfinder/internal/orchestrator"
)

var (
	runOutputPrefix string
	runFormats      string
)

var runCmd = &cobra.Command{
	Use:   "run [input-file]",
	Short: "Research a batch of identifiers and write results",
	Long:  "Reads comma or newline separated organization identifiers from a file or stdin (# lines are comments), researches each, and writes the results in the requested formats.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		var raw []byte
		var err error
		if len(args) == 1 {
			raw, err = os.ReadFile(args[0])
			if err != nil {
				return eris.Wrap(err, "read input file")
			}
		} else {
			raw, err = io.ReadAll(os.Stdin)
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
		}

		identifiers := parseInput(string(raw))
		if len(identifiers) == 0 {
			return eris.New("no identifiers provided")
		}
		fmt.Fprintf(os.Stderr, "Researching %d identifier(s)...\n", len(identifiers))

		e, err := initEnv(ctx, consoleSink{}, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		start := time.Now()
		job, err := e.Orchestrator.Run(ctx, identifiers)
		if err != nil {
			return eris.Wrap(err, "run job")
		}
		elapsed := time.Since(start)

		view := job.Snapshot()
		meta := export.Meta{
			JobID:             view.ID,
			ProcessingSeconds: elapsed.Seconds(),
			Model:             cfg.Anthropic.Model,
			Timestamp:         time.Now().UTC(),
		}
		if err := writeOutputs(view.Results, meta); err != nil {
			return err
		}

		zap.L().Info("job complete",
			zap.String("job_id", view.ID),
			zap.String("status", string(view.Status)),
			zap.Duration("elapsed", elapsed),
			zap.Int("total", view.Total),
			zap.Int("total_price_cents", view.Summary.TotalPriceCents),
		)
		for status, n := range view.Summary.ByStatus {
			fmt.Fprintf(os.Stderr, "  %-18s %d\n", status, n)
		}
		return nil
	},
}

func writeOutputs(records []lead.Record, meta export.Meta) error {
	for _, format := range strings.Split(runFormats, ",") {
		format = strings.TrimSpace(format)
		if format == "" {
			continue
		}
		path := runOutputPrefix + "." + format
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create %s", path)
		}

		switch format {
		case "csv":
			err = export.WriteCSV(f, records)
		case "json":
			err = export.WriteJSON(f, meta, records)
		case "xlsx":
			err = export.WriteXLSX(f, records)
		default:
			f.Close()
			os.Remove(path)
			return eris.Errorf("unknown output format %q", format)
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return eris.Wrapf(err, "write %s", path)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	}
	return nil
}

// consoleSink prints per-identifier progress to stderr.
type consoleSink struct{}

func (consoleSink) OnStarted(ev orchestrator.ProgressEvent) {
	fmt.Fprintf(os.Stderr, "[%d/%d] researching %s\n", ev.Index+1, ev.Total, ev.Identifier)
}

func (consoleSink) OnFinished(ev orchestrator.ProgressEvent) {
	fmt.Fprintf(os.Stderr, "[%d/%d] %s: %s (%s)\n", ev.Index+1, ev.Total, ev.Identifier, ev.Status, ev.Tier)
}

func init() {
	runCmd.Flags().StringVar(&runOutputPrefix, "output", "results", "output filename prefix")
	runCmd.Flags().StringVar(&runFormats, "formats", "csv,json", "comma-separated output formats (csv, json, xlsx)")
	rootCmd.AddCommand(runCmd)
}
