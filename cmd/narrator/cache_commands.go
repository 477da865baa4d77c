package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"narrator/internal/clientcache"
)

var errCacheDisabled = errors.New("client cache is disabled (set client.cache_enabled = true)")

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local chapter audio cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "languages <story>",
		Short: "List languages cached for a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cache *clientcache.Cache) error {
				if cache == nil {
					return errCacheDisabled
				}
				langs, err := cache.GetCachedLanguages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"storyId": args[0], "languages": langs})
				}
				if len(langs) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Nothing cached for %s\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], strings.Join(langs, ", "))
				return nil
			})
		},
	})

	var language string
	clearCmd := &cobra.Command{
		Use:   "clear <story>",
		Short: "Remove cached audio for a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cache *clientcache.Cache) error {
				if cache == nil {
					return errCacheDisabled
				}
				removed, err := cache.ClearCache(cmd.Context(), args[0], language)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"storyId": args[0], "removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached chapter(s)\n", removed)
				return nil
			})
		},
	}
	clearCmd.Flags().StringVarP(&language, "language", "l", "", "Only clear this language")
	cacheCmd.AddCommand(clearCmd)

	return cacheCmd
}
