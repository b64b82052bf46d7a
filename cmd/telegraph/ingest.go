package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/telegraph/internal/config"
	"github.com/zsiec/telegraph/internal/ingest"
	"github.com/zsiec/telegraph/internal/sdk"
)

func ingestTestCmd(cfg *config.Config) *cobra.Command {
	var (
		servers []string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "ingest-test",
		Short: "Measure upload throughput to each ingest server",
		Long: `Push filler MPEG-TS packets to each ingest server over SRT for a fixed
window and report the achieved bitrate, fastest first. Servers are given
as name=srt://host:port[?streamid=...] pairs; without any, the loopback
service's ingest list is probed.

Examples:
  telegraph ingest-test --stream-key abc --server east=srt://ingest-east:9000
  telegraph ingest-test --duration 10s --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := parseServers(servers)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			tester := ingest.NewTester(ingest.TesterConfig{
				StreamKey:   cfg.StreamKey,
				Duration:    cfg.ProbeDuration,
				Concurrency: cfg.ProbeConcurrency,
				Dialer:      ingest.SRTDialer{Timeout: cfg.ProbeDialTimeout},
				Logger:      slog.Default(),
			})
			results, err := tester.Run(cmd.Context(), list)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			return printResults(out, results)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&servers, "server", nil, "ingest server as name=url (repeatable)")
	f.StringVar(&cfg.StreamKey, "stream-key", cfg.StreamKey, "stream key for {stream_key} placeholders (env STREAM_KEY)")
	f.DurationVar(&cfg.ProbeDuration, "duration", cfg.ProbeDuration, "probe length per server")
	f.IntVar(&cfg.ProbeConcurrency, "concurrency", cfg.ProbeConcurrency, "servers probed at once")
	f.DurationVar(&cfg.ProbeDialTimeout, "dial-timeout", cfg.ProbeDialTimeout, "SRT handshake timeout")
	f.BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func parseServers(args []string) ([]sdk.IngestServer, error) {
	if len(args) == 0 {
		return sdk.DefaultIngests, nil
	}
	out := make([]sdk.IngestServer, 0, len(args))
	for _, a := range args {
		name, url, ok := strings.Cut(a, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("server %q: want name=url", a)
		}
		out = append(out, sdk.IngestServer{Name: name, URL: url})
	}
	return out, nil
}

func printResults(w io.Writer, results []ingest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tKBPS\tBYTES\tELAPSED\tERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%.0f\t%d\t%s\t%s\n", r.Server.Name, r.Kbps, r.Bytes, r.Elapsed.Round(time.Millisecond), r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if best, err := ingest.Best(results); err == nil {
		fmt.Fprintf(w, "\nbest: %s (%.0f kbps)\n", best.Server.Name, best.Kbps)
	}
	return nil
}
