// PhishGuard - Heuristic phishing URL scoring service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command phishcheck scores URLs offline with the built-in heuristics.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/phishguard/internal/analysis"
	"github.com/opensource-finance/phishguard/internal/domain"
	"github.com/opensource-finance/phishguard/internal/refdata"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes.
const (
	exitInvalid  = 1
	exitPhishing = 2
)

// ExitError signals a non-standard exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

type options struct {
	file           string
	jsonOutput     bool
	concurrency    int
	refdataPath    string
	failOnPhishing bool
	verbose        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "phishcheck [url...]",
		Short: "Score URLs for phishing risk",
		Long: fmt.Sprintf(`phishcheck scores each URL from 0 (dangerous) to 100 (safe) using
offline heuristics: domain reputation, phishing keywords, insecure
protocol, raw IP hosts and known threat patterns. No network access.

Build Info: Commit %s, Date %s

Examples:
  phishcheck https://www.google.com/search?q=test
  phishcheck --file urls.txt --json
  cat urls.txt | phishcheck --file - --fail-on-phishing`, commit, date),
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read URLs from file, one per line (- for stdin)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output one JSON result per line")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 8, "max number of URLs scored in parallel")
	cmd.Flags().StringVar(&opts.refdataPath, "refdata", "", "YAML reference data file (default: built-in tables)")
	cmd.Flags().BoolVar(&opts.failOnPhishing, "fail-on-phishing", false, "exit with code 2 if any URL is phishing")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging to stderr")

	return cmd
}

// outcome is the scoring result of one input line.
type outcome struct {
	URL    string                 `json:"url"`
	Result *domain.AnalysisResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	if opts.concurrency <= 0 {
		return fmt.Errorf("--concurrency must be positive")
	}

	ref := refdata.Default()
	if opts.refdataPath != "" {
		var err error
		if ref, err = refdata.LoadFile(opts.refdataPath); err != nil {
			return err
		}
	}

	urls := args
	if opts.file != "" {
		fromFile, err := readURLs(cmd.InOrStdin(), opts.file)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("at least one URL or --file is required")
	}

	outcomes := scoreAll(urls, ref, opts.concurrency)

	out := cmd.OutOrStdout()
	var invalid, phishing int
	for _, o := range outcomes {
		if o.Result == nil {
			invalid++
		} else if o.Result.IsPhishing {
			phishing++
		}
		if err := writeOutcome(out, o, opts.jsonOutput); err != nil {
			return err
		}
	}

	switch {
	case invalid > 0:
		return &ExitError{Code: exitInvalid, Message: fmt.Sprintf("%d invalid URL(s)", invalid)}
	case opts.failOnPhishing && phishing > 0:
		return &ExitError{Code: exitPhishing, Message: fmt.Sprintf("%d phishing URL(s) detected", phishing)}
	}
	return nil
}

// scoreAll scores urls with at most limit in flight. Results keep input
// order.
func scoreAll(urls []string, ref *refdata.ReferenceData, limit int) []outcome {
	outcomes := make([]outcome, len(urls))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, raw := range urls {
		g.Go(func() error {
			res, err := analysis.Analyze(raw, ref)
			if err != nil {
				slog.Debug("invalid url", "url", raw, "error", err)
				outcomes[i] = outcome{URL: raw, Error: err.Error()}
				return nil
			}
			slog.Debug("url scored", "url", raw, "safety_score", res.SafetyScore)
			outcomes[i] = outcome{URL: raw, Result: &res}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// readURLs reads one URL per line from path, or from stdin when path is
// "-". Blank lines and lines starting with # are skipped.
func readURLs(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read urls: %w", err)
	}
	return urls, nil
}

func writeOutcome(w io.Writer, o outcome, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(o)
	}

	if o.Result == nil {
		_, err := fmt.Fprintf(w, "ERR  %-10s %s\n     %s\n", "invalid", o.URL, o.Error)
		return err
	}

	verdict := domain.VerdictFor(o.Result.SafetyScore)
	if _, err := fmt.Fprintf(w, "%3d  %-10s %s\n", o.Result.SafetyScore, verdict, o.URL); err != nil {
		return err
	}
	for _, f := range o.Result.ThreatFactors {
		if _, err := fmt.Fprintf(w, "     [%s] %s: %s\n", f.Level, f.Name, f.Description); err != nil {
			return err
		}
	}
	return nil
}
