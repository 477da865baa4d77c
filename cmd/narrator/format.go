package main

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"narrator/internal/api"
)

// formatSeconds renders a duration in seconds as m:ss or h:mm:ss.
func formatSeconds(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		return "0:00"
	}
	total := int(math.Round(seconds))
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// formatCreated renders an API timestamp relative to now, or "-" when absent.
func formatCreated(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return humanize.Time(ts)
}

func printChapterTable(out io.Writer, chapters []api.ChapterView, totalDuration float64) {
	if len(chapters) == 0 {
		fmt.Fprintln(out, "No chapters")
		return
	}
	rows := make([][]string, 0, len(chapters))
	var totalBytes int64
	for _, ch := range chapters {
		totalBytes += ch.SizeBytes
		rows = append(rows, []string{
			strconv.Itoa(ch.Index),
			ch.Language,
			ch.Speaker,
			formatSeconds(ch.Duration),
			fmt.Sprintf("%d-%d", ch.StartPosition, ch.EndPosition),
			formatBytes(ch.SizeBytes),
			formatCreated(ch.CreatedAt),
		})
	}
	footer := []string{"", "", "Total", formatSeconds(totalDuration), "", formatBytes(totalBytes), ""}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Lang", "Speaker", "Duration", "Chars", "Size", "Created"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
		footer,
	))
}

func printFailures(out io.Writer, failures []api.ChapterFailure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(out, "%d chapter(s) failed:\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(out, "  #%d: %s\n", f.Index, f.Error)
	}
}

func printJob(out io.Writer, job api.JobStatus) {
	fmt.Fprintf(out, "Job %s: %s\n", job.ID, job.Status)
	fmt.Fprintf(out, "  Story:    %s (%s)\n", job.StoryID, job.Language)
	if job.Progress.Stage != "" {
		fmt.Fprintf(out, "  Progress: %s %.0f%%", job.Progress.Stage, job.Progress.Percent)
		if job.Progress.Message != "" {
			fmt.Fprintf(out, " - %s", job.Progress.Message)
		}
		fmt.Fprintln(out)
	}
	if job.PlannedChapters > 0 {
		fmt.Fprintf(out, "  Chapters: %d/%d (%s)\n", job.GeneratedChapters, job.PlannedChapters, formatSeconds(job.TotalDuration))
	}
	fmt.Fprintf(out, "  Attempts: %d\n", job.AttemptsMade)
	if job.Error != "" {
		fmt.Fprintf(out, "  Error:    %s\n", job.Error)
		if job.Permanent {
			fmt.Fprintln(out, "  (permanent failure, retry will be refused)")
		}
	}
	printFailures(out, job.FailedChapters)
}
