package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/aiextract"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/parser"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/service"
)

type parseOptions struct {
	locale  string
	year    int
	format  string
	useAI   bool
	workers int
	verbose bool
}

func newParseCommand() *cobra.Command {
	var opts parseOptions

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a statement and print its candidates and diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading statement: %w", err)
			}
			return runParse(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), parser.Source{FileName: args[0], Data: data}, opts)
		},
	}

	cmd.Flags().StringVar(&opts.locale, "locale", "auto", "amount locale: auto, br or us")
	cmd.Flags().IntVar(&opts.year, "year", 0, "year for DD/MM dates (default current year)")
	cmd.Flags().StringVar(&opts.format, "format", "table", "output format: table or json")
	cmd.Flags().BoolVar(&opts.useAI, "ai", false, "extract with Gemini (needs GEMINI_API_KEY)")
	cmd.Flags().IntVar(&opts.workers, "pdf-workers", 4, "concurrent PDF page readers")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log parser activity to stderr")

	return cmd
}

func runParse(ctx context.Context, stdout, stderr io.Writer, src parser.Source, opts parseOptions) error {
	if opts.format != "table" && opts.format != "json" {
		return fmt.Errorf("unknown output format %q", opts.format)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	locale, err := normalizer.LocaleByName(opts.locale)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var ai service.AIExtractor
	if opts.useAI {
		extractor, err := aiextract.NewGeminiExtractor(ctx, os.Getenv("GEMINI_API_KEY"), os.Getenv("GEMINI_MODEL"), logger)
		if err != nil {
			return err
		}
		ai = extractor
	}

	orchestrator := service.NewOrchestrator(parser.Options{
		Locale:        locale,
		Classifier:    normalizer.NewKeywordClassifier(),
		ReferenceYear: opts.year,
		PDFWorkers:    opts.workers,
	}, ai, false, logger)

	report, err := orchestrator.Extract(ctx, src, service.ExtractOptions{UseAI: opts.useAI})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeTable(stdout, report)
}

func writeTable(w io.Writer, report *parser.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "DATE\tDIRECTION\tAMOUNT\tCATEGORY\tDESCRIPTION\n")
	for _, c := range report.Candidates {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Date, c.Direction, c.Amount.StringFixed(2), c.Category, c.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d candidates from %s", len(report.Candidates), report.Format)
	if len(report.Diagnostics) > 0 {
		fmt.Fprintf(w, ", %d skipped:\n", len(report.Diagnostics))
		for _, d := range report.Diagnostics {
			fmt.Fprintf(w, "  %s\n", d)
		}
		return nil
	}
	fmt.Fprintln(w)
	return nil
}
