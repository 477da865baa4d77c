package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"narrator/internal/client"
	"narrator/internal/clientcache"
	"narrator/internal/config"
)

type fetchSummary struct {
	StoryID    string   `json:"storyId"`
	Language   string   `json:"language"`
	Chapters   int      `json:"chapters"`
	CacheHits  int      `json:"cacheHits"`
	Downloaded int      `json:"downloaded"`
	Bytes      int64    `json:"bytes"`
	Files      []string `json:"files,omitempty"`
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var language string
	var outDir string
	cmd := &cobra.Command{
		Use:   "fetch <story>",
		Short: "Download chapter audio into the local cache",
		Long: "Download chapter audio into the local cache.\n\n" +
			"Chapters already cached are not downloaded again. With --out the\n" +
			"audio is also written to one file per chapter.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			return ctx.withCache(func(cache *clientcache.Cache) error {
				report, err := client.NewLibrary(cl, cache, nil).Fetch(cmd.Context(), args[0], language)
				if err != nil {
					return err
				}
				summary := fetchSummary{
					StoryID:    report.StoryID,
					Language:   report.Language,
					Chapters:   len(report.Chapters),
					CacheHits:  report.CacheHits,
					Downloaded: report.Downloaded,
					Bytes:      report.Bytes,
				}
				if outDir != "" {
					files, err := writeChapterFiles(cfg, outDir, report)
					if err != nil {
						return err
					}
					summary.Files = files
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, summary)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Fetched %d chapter(s) of %s (%s): %d cached, %d downloaded, %s\n",
					summary.Chapters, summary.StoryID, displayLanguage(summary.Language),
					summary.CacheHits, summary.Downloaded, formatBytes(summary.Bytes))
				for _, f := range summary.Files {
					fmt.Fprintf(out, "  %s\n", f)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "Language to fetch (defaults to the first available)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Also write chapter audio files to this directory")
	return cmd
}

func writeChapterFiles(cfg *config.Config, dir string, report *client.FetchReport) ([]string, error) {
	dir, err := config.ExpandPath(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	ext := strings.TrimPrefix(strings.TrimSpace(cfg.Synth.Format), ".")
	if ext == "" {
		ext = "mp3"
	}
	files := make([]string, 0, len(report.Chapters))
	for _, ch := range report.Chapters {
		path := filepath.Join(dir, fmt.Sprintf("%s-%03d.%s", report.Language, ch.Chapter.Index, ext))
		if err := os.WriteFile(path, ch.Audio, 0o644); err != nil {
			return files, fmt.Errorf("write chapter %d: %w", ch.Chapter.Index, err)
		}
		files = append(files, path)
	}
	return files, nil
}
