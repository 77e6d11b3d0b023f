package main

import (
	"fmt"
	"strconv"

	"ms-stepping/internal/config"
	"ms-stepping/internal/database/migrations"
	"ms-stepping/internal/logger"

	"github.com/spf13/cobra"
)

func migrateCmd(opts *options) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")

	runner := func() (*migrations.Runner, error) {
		cfg := config.Load()
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN not set")
		}
		if dir != "" {
			cfg.Database.MigrationsDir = dir
		}
		return migrations.NewRunner(cfg.Database, logger.NewConsoleLogger()), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := runner()
			if err != nil {
				return err
			}
			defer r.Close()
			if err := r.Up(); err != nil {
				return err
			}
			return printVersion(cmd, r)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the given number of migrations, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			r, err := runner()
			if err != nil {
				return err
			}
			defer r.Close()
			if err := r.Down(steps); err != nil {
				return err
			}
			return printVersion(cmd, r)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := runner()
			if err != nil {
				return err
			}
			defer r.Close()
			return printVersion(cmd, r)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, r *migrations.Runner) error {
	v, dirty, err := r.Version()
	if err != nil {
		return err
	}
	p := newPrinter(cmd)
	if dirty {
		p.bad("schema version %d (dirty)", v)
		return nil
	}
	p.ok("schema version %d", v)
	return nil
}
