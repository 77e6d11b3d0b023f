// Command steppingctl checks a Stepping deployment: configuration readiness,
// end-to-end smoke flows through the public API, and schema migrations.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	apiURL  string
	envFile string
	timeout time.Duration
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "steppingctl",
		Short: "Operate and verify a Stepping service deployment",
		Long: `Operate and verify a Stepping service deployment.

Examples:
  steppingctl readiness
  steppingctl smoke business --owner-token $OWNER --admin-token $ADMIN
  steppingctl smoke payment --amount 12.50 --currency USD
  steppingctl migrate up
`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.envFile == "" {
				return
			}
			if err := godotenv.Load(opts.envFile); err != nil {
				color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "warning: %s not loaded: %v\n", opts.envFile, err)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("STEPPING_API_URL", "http://localhost:8084"), "Base URL of the Stepping service")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before reading configuration")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall timeout for the command")

	cmd.AddCommand(readinessCmd(opts))
	cmd.AddCommand(smokeCmd(opts))
	cmd.AddCommand(migrateCmd(opts))
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printer writes colored check results.
type printer struct {
	w    io.Writer
	pass *color.Color
	fail *color.Color
	warn *color.Color
	head *color.Color
}

func newPrinter(cmd *cobra.Command) *printer {
	return &printer{
		w:    cmd.OutOrStdout(),
		pass: color.New(color.FgGreen),
		fail: color.New(color.FgRed, color.Bold),
		warn: color.New(color.FgYellow),
		head: color.New(color.FgCyan, color.Bold),
	}
}

func (p *printer) section(title string) {
	p.head.Fprintf(p.w, "\n== %s ==\n", title)
}

func (p *printer) ok(format string, args ...interface{}) {
	p.pass.Fprint(p.w, "  ✓ ")
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) bad(format string, args ...interface{}) {
	p.fail.Fprint(p.w, "  ✗ ")
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) note(format string, args ...interface{}) {
	p.warn.Fprint(p.w, "  ! ")
	fmt.Fprintf(p.w, format+"\n", args...)
}
