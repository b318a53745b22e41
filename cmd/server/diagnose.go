package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"videograb/internal/config"
	"videograb/internal/downloader"
)

func newDiagnoseCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check the extractor, cookies, proxies and pacing settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger("error")

			a := &app{}
			a.buildEngine(cfg, logger)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			report := a.diagnostics.Run(ctx)
			printReport(os.Stdout, report)
			if !report.Healthy {
				return fmt.Errorf("%s is not usable", report.Tool.Binary)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall time limit for the checks")
	return cmd
}

func printReport(w io.Writer, r downloader.DiagnosticReport) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	status := func(ok bool, okText, badText string) string {
		if ok {
			return green.Sprint(okText)
		}
		return red.Sprint(badText)
	}

	bold.Fprintln(w, "Extractor")
	fmt.Fprintf(w, "  binary:   %s\n", r.Tool.Binary)
	fmt.Fprintf(w, "  status:   %s\n", status(r.Tool.Available, "available", "unavailable"))
	if r.Tool.Version != "" {
		fmt.Fprintf(w, "  version:  %s\n", r.Tool.Version)
	}
	if r.Tool.Error != "" {
		fmt.Fprintf(w, "  error:    %s\n", r.Tool.Error)
	}

	bold.Fprintln(w, "Cookies")
	if !r.Cookies.Configured {
		fmt.Fprintf(w, "  %s\n", yellow.Sprint("not configured"))
	} else {
		fmt.Fprintf(w, "  file:     %s (%s)\n", r.Cookies.Path, status(r.Cookies.Exists, "found", "missing"))
		fmt.Fprintf(w, "  entries:  %d\n", r.Cookies.Entries)
		fmt.Fprintf(w, "  login:    %s\n", status(r.Cookies.HasLoginInfo, "yes", "no"))
	}

	bold.Fprintln(w, "Limits")
	fmt.Fprintf(w, "  proxies:  %d configured\n", r.Proxy.Total)
	fmt.Fprintf(w, "  interval: %d ms\n", r.RequestIntervalMs)
	fmt.Fprintf(w, "  slots:    %d/%d in use\n", r.ActiveDownloads, r.MaxConcurrent)

	if len(r.Recommendations) > 0 {
		bold.Fprintln(w, "Recommendations")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  %s %s\n", yellow.Sprint("-"), rec)
		}
	}
}
