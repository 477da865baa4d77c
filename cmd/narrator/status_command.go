package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"narrator/internal/api"
	"narrator/internal/client"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and cache status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			status, err := cl.Status(cmd.Context())
			if err != nil {
				var apiErr *client.APIError
				if ctx.jsonOutput() || errors.As(err, &apiErr) {
					return err
				}
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Narrator", statusError, "Not reachable: "+err.Error(), colorize))
				return nil
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(out, status, shouldColorize(out))
			return nil
		},
	}
}

func renderDaemonStatus(out io.Writer, status *api.DaemonStatus, colorize bool) {
	section := func(title string) {
		for _, line := range renderSectionHeader(title, colorize) {
			fmt.Fprintln(out, line)
		}
	}

	section("Daemon")
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Narrator", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Narrator", statusWarn, "Stopped", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("API", statusInfo, status.Bind, colorize))
	fmt.Fprintln(out, renderStatusLine("Blob Store", statusInfo, status.BlobBackend, colorize))
	for _, check := range status.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}

	fmt.Fprintln(out)
	section("Workflow")
	wf := status.Workflow
	worker := "Idle"
	if wf.CurrentJob != "" {
		worker = "Processing " + wf.CurrentJob
	}
	fmt.Fprintln(out, renderStatusLine("Worker", statusInfo, fmt.Sprintf("%s (running: %s)", worker, yesNo(wf.Running)), colorize))
	fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, fmt.Sprintf("%d completed, %d failed", wf.Completed, wf.Failed), colorize))
	if wf.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last Error", statusWarn, wf.LastError, colorize))
	}
	rows := make([][]string, 0, len(wf.QueueStats))
	for _, name := range api.SortedQueueStats(wf.QueueStats) {
		rows = append(rows, []string{name, strconv.Itoa(wf.QueueStats[name])})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Status", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}, nil))
	}

	fmt.Fprintln(out)
	section("Generation Cache")
	c := status.Cache
	fmt.Fprintln(out, renderStatusLine("Entries", statusInfo, fmt.Sprintf("%d / %d", c.Entries, c.MaxEntries), colorize))
	fmt.Fprintln(out, renderStatusLine("Size", statusInfo, fmt.Sprintf("%s / %s", formatBytes(c.Bytes), formatBytes(c.MaxBytes)), colorize))
	fmt.Fprintln(out, renderStatusLine("Hit Rate", statusInfo,
		fmt.Sprintf("%.1f%% (%d hits, %d misses, %d evictions)", c.HitRate*100, c.Hits, c.Misses, c.Evictions), colorize))
}
