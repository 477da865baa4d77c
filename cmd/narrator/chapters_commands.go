package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"narrator/internal/api"
	"narrator/internal/client"
)

func newChaptersCommand(ctx *commandContext) *cobra.Command {
	chaptersCmd := &cobra.Command{
		Use:   "chapters",
		Short: "Generate, list, and delete narrated chapters",
	}
	chaptersCmd.AddCommand(newChaptersListCommand(ctx))
	chaptersCmd.AddCommand(newChaptersGenerateCommand(ctx))
	chaptersCmd.AddCommand(newChaptersDeleteCommand(ctx))
	return chaptersCmd
}

func newChaptersListCommand(ctx *commandContext) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "list <story>",
		Short: "List generated chapters of a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			listing, err := cl.ListChapters(cmd.Context(), args[0], language)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, listing)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Story %s (%s): %d chapter(s)\n", listing.StoryID, displayLanguage(listing.Language), listing.TotalChapters)
			printChapterTable(out, listing.Chapters, listing.TotalDuration)
			if len(listing.AvailableLanguages) > 0 {
				fmt.Fprintf(out, "Available languages: %s\n", strings.Join(listing.AvailableLanguages, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "Language to list (defaults to the first available)")
	return cmd
}

func newChaptersGenerateCommand(ctx *commandContext) *cobra.Command {
	var (
		textFlag       string
		fileFlag       string
		language       string
		speaker        string
		targetDuration time.Duration
		pitch          float64
		pace           float64
		async          bool
		wait           bool
	)
	cmd := &cobra.Command{
		Use:   "generate <story>",
		Short: "Narrate a story into chapters",
		Long: "Narrate a story into chapters.\n\n" +
			"The text comes from --text, --file, or stdin when --file is \"-\".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readStoryText(cmd.InOrStdin(), textFlag, fileFlag)
			if err != nil {
				return err
			}
			req := api.GenerateRequest{
				Text:           text,
				Language:       language,
				Speaker:        speaker,
				TargetDuration: targetDuration.Seconds(),
			}
			if cmd.Flags().Changed("pitch") {
				req.Pitch = &pitch
			}
			if cmd.Flags().Changed("pace") {
				req.Pace = &pace
			}

			cl, err := ctx.client()
			if err != nil {
				return err
			}
			storyID := args[0]
			out := cmd.OutOrStdout()

			if !async && !wait {
				resp, err := cl.Generate(cmd.Context(), storyID, req)
				if resp == nil {
					return err
				}
				if ctx.jsonOutput() {
					if jsonErr := writeJSON(cmd, resp); jsonErr != nil {
						return jsonErr
					}
					return err
				}
				fmt.Fprintf(out, "Generated %d of %d chapter(s) for %s (%s)\n",
					len(resp.Chapters), resp.PlannedChapters, resp.StoryID, displayLanguage(resp.Language))
				printChapterTable(out, resp.Chapters, resp.TotalDuration)
				printFailures(out, resp.FailedChapters)
				return err
			}

			accepted, err := cl.Submit(cmd.Context(), storyID, req)
			if err != nil {
				return err
			}
			if !wait {
				if ctx.jsonOutput() {
					return writeJSON(cmd, accepted)
				}
				fmt.Fprintf(out, "Queued job %s\n", accepted.JobID)
				return nil
			}
			return waitAndReport(cmd, ctx, cl, accepted.JobID)
		},
	}
	cmd.Flags().StringVarP(&textFlag, "text", "t", "", "Story text")
	cmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Read story text from a file (\"-\" for stdin)")
	cmd.Flags().StringVarP(&language, "language", "l", "en", "Narration language")
	cmd.Flags().StringVar(&speaker, "speaker", "", "Voice to narrate with (defaults to the daemon's)")
	cmd.Flags().DurationVar(&targetDuration, "target-duration", 0, "Approximate chapter length, e.g. 5m")
	cmd.Flags().Float64Var(&pitch, "pitch", 0, "Pitch adjustment")
	cmd.Flags().Float64Var(&pace, "pace", 1, "Pace multiplier")
	cmd.Flags().BoolVar(&async, "async", false, "Queue the generation and return the job ID")
	cmd.Flags().BoolVar(&wait, "wait", false, "Queue the generation and wait for the job to finish")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	return cmd
}

func newChaptersDeleteCommand(ctx *commandContext) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "delete <story>",
		Short: "Delete a story's chapters and audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			deleted, err := cl.DeleteChapters(cmd.Context(), args[0], language)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, api.DeleteResponse{Deleted: deleted})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chapter(s)\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "Only delete this language")
	return cmd
}

func waitAndReport(cmd *cobra.Command, ctx *commandContext, cl *client.Client, jobID string) error {
	out := cmd.OutOrStdout()
	var lastStage string
	job, err := cl.WaitForJob(cmd.Context(), jobID, func(status api.JobStatus) {
		if ctx.jsonOutput() || status.Progress.Stage == "" || status.Progress.Stage == lastStage {
			return
		}
		lastStage = status.Progress.Stage
		fmt.Fprintf(out, "  %s: %s %.0f%%\n", jobID, status.Progress.Stage, status.Progress.Percent)
	})
	if errors.Is(err, client.ErrJobTimeout) {
		fmt.Fprintf(out, "Job %s is still running; check later with `narrator job status %s`\n", jobID, jobID)
	}
	if job == nil {
		return err
	}
	if ctx.jsonOutput() {
		if jsonErr := writeJSON(cmd, job); jsonErr != nil {
			return jsonErr
		}
	} else {
		printJob(out, *job)
	}
	if err != nil {
		return err
	}
	if job.Status == "failed" {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}

func readStoryText(stdin io.Reader, text, file string) (string, error) {
	switch {
	case strings.TrimSpace(text) != "":
		return text, nil
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read story file: %w", err)
		}
		return string(data), nil
	default:
		return "", errors.New("story text is required (use --text or --file)")
	}
}

func displayLanguage(lang string) string {
	if lang == "" {
		return "no language"
	}
	return lang
}
