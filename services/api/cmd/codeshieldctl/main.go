package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"codeshield/services/api"
	"codeshield/services/registry"
	"codeshield/services/scanner"
)

const defaultAPI = "http://localhost:8080"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiBaseURL string

	cmd := &cobra.Command{
		Use:           "codeshieldctl",
		Short:         "Submit smart contracts to CodeShield and inspect scan results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&apiBaseURL, "api", envOr("CODESHIELD_API", defaultAPI), "Base URL of the CodeShield API")

	cmd.AddCommand(newScanCommand(&apiBaseURL))
	cmd.AddCommand(newStatusCommand(&apiBaseURL))
	cmd.AddCommand(newAnalyzersCommand())
	return cmd
}

func newScanCommand(apiBaseURL *string) *cobra.Command {
	var (
		target   string
		codeHash string
		wait     bool
		interval time.Duration
		timeout  time.Duration
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "scan <file.sol>",
		Short: "Submit a Solidity source file for scanning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()

			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read source: %w", err)
			}
			if target == "" {
				target = args[0]
			}

			client, err := api.NewClient(*apiBaseURL, nil)
			if err != nil {
				return err
			}
			id, err := client.Submit(ctx, target, codeHash, string(source))
			if err != nil {
				return err
			}
			logger.Info().Str("scan_id", id).Str("target", target).Msg("scan submitted")
			if !wait {
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}

			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			rec, err := client.Wait(waitCtx, id, interval)
			if err != nil {
				return fmt.Errorf("wait for scan %s: %w", id, err)
			}
			return printRecord(cmd.OutOrStdout(), rec, asJSON)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Target reference attested on the ledger (defaults to the file path)")
	cmd.Flags().StringVar(&codeHash, "code-hash", "", "Code hash to attest (defaults to keccak256 of the source)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the scan completes and print the result")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval used with --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full scan record as JSON")
	return cmd
}

func newStatusCommand(apiBaseURL *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <scan-id>",
		Short: "Show the status and result of a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := api.NewClient(*apiBaseURL, nil)
			if err != nil {
				return err
			}
			rec, err := client.Get(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printRecord(cmd.OutOrStdout(), rec, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full scan record as JSON")
	return cmd
}

func newAnalyzersCommand() *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:   "analyzers",
		Short: "Check which analyzers are installed on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapters, err := scanner.NewAdapters(names)
			if err != nil {
				return err
			}
			return printAnalyzers(commandContext(cmd), cmd.OutOrStdout(), adapters)
		},
	}

	cmd.Flags().StringSliceVar(&names, "names", scanner.DefaultAnalyzers, "Analyzers to check")
	return cmd
}

func printAnalyzers(ctx context.Context, out io.Writer, adapters []scanner.Adapter) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSTATUS\tVERSION")
	for _, ad := range adapters {
		status, version := "available", ""
		if err := ad.CheckAvailable(ctx); err != nil {
			status = "unavailable: " + err.Error()
		} else if v, err := ad.Version(ctx); err == nil {
			version = v
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ad.Name(), ad.Kind(), status, version)
	}
	return tw.Flush()
}

func printRecord(out io.Writer, rec *registry.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Fprintf(out, "Scan:   %s\nTarget: %s\nStatus: %s\n", rec.ID, rec.Target, rec.Status)
	for _, w := range rec.Warnings {
		fmt.Fprintf(out, "Warning: %s: %s\n", w.Kind, w.Message)
	}
	if rec.Error != nil {
		fmt.Fprintf(out, "Error:  %s: %s\n", rec.Error.Kind, rec.Error.Message)
	}
	if rec.Result == nil {
		return nil
	}
	if att := rec.Result.Attestation; att != nil {
		fmt.Fprintf(out, "Tx:     %s\n", att.TransactionHash)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.TrimSpace(rec.Result.VulnerabilityReport.Text))
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
