package main

import (
	"github.com/spf13/cobra"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and retry generation jobs",
	}

	jobCmd.AddCommand(&cobra.Command{
		Use:   "status <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := cl.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			printJob(cmd.OutOrStdout(), *job)
			return nil
		},
	})

	jobCmd.AddCommand(&cobra.Command{
		Use:   "wait <id>",
		Short: "Wait for a job to complete or fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			return waitAndReport(cmd, ctx, cl, args[0])
		},
	})

	jobCmd.AddCommand(&cobra.Command{
		Use:   "retry <id>",
		Short: "Resubmit a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := cl.RetryJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			printJob(cmd.OutOrStdout(), *job)
			return nil
		},
	})

	return jobCmd
}
