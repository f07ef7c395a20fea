package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/armslicense/armslicense/cmd/armslicense/cli"
	"github.com/armslicense/armslicense/internal/catalog"
)

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitWith(code int) error {
	if code == 0 {
		return nil
	}
	return exitError{code: code}
}

func referenceCmd() *cobra.Command {
	var (
		file   string
		admin  string
		intake string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Inspect role and permission reference data",
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", os.Getenv("SEED_FILE"), "Seed file (defaults to the embedded seed)")
	cmd.PersistentFlags().StringVar(&admin, "admin", catalog.RoleAdmin, "Role allowed to forward anywhere")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the seed compiles and report unreachable roles and dead grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitWith(cli.ValidateReferenceCommand(cli.ReferenceValidateOptions{
				File:       file,
				AdminRole:  admin,
				IntakeRole: intake,
				JSONOutput: asJSON,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			}))
		},
	}
	validate.Flags().StringVar(&intake, "intake", catalog.RoleZS, "Role that owns fresh applications")
	validate.Flags().BoolVar(&asJSON, "json", false, "Print a JSON summary")

	targets := &cobra.Command{
		Use:   "targets ROLE",
		Short: "List the roles ROLE may forward to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitWith(cli.TargetsCommand(file, admin, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}

	cmd.AddCommand(validate, targets)
	return cmd
}

func jobsCmd() *cobra.Command {
	var (
		redisAddr string
		retention int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}
	cmd.PersistentFlags().StringVar(&redisAddr, "redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "Redis address")

	trigger := &cobra.Command{
		Use:   "trigger JOB",
		Short: "Enqueue a maintenance job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli.NewJobsCLI(redisAddr)
			defer func() { _ = c.Close() }()
			info, err := c.Trigger(cmd.Context(), args[0], retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", info.Type, info.ID)
			return nil
		},
	}
	trigger.Flags().IntVar(&retention, "retention-hours", 72, "Idempotency key retention")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Print default queue statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli.NewJobsCLI(redisAddr)
			defer func() { _ = c.Close() }()
			stats, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
		},
	}

	cmd.AddCommand(trigger, inspect)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
