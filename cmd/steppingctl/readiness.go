package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"ms-stepping/internal/config"
	"ms-stepping/internal/kafka"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

type proxyHealth struct {
	Status          string `json:"status"`
	Environment     string `json:"environment"`
	DefaultProvider string `json:"default_provider"`
	Database        string `json:"database"`
	Providers       map[string]struct {
		Configured bool     `json:"configured"`
		Enabled    bool     `json:"enabled"`
		Missing    []string `json:"missing"`
	} `json:"providers"`
}

func readinessCmd(opts *options) *cobra.Command {
	var skip []string

	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Report configuration completeness and dependency health",
		Long: `Report configuration completeness per feature, then check that Postgres,
Redis and the payment proxy answer. Missing configuration is reported but only
failed connectivity checks make the command fail.

Skip individual checks with --skip postgres,redis,proxy,kafka. The kafka check
runs only when KAFKA_ENABLED is true.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runReadiness(ctx, newPrinter(cmd), config.Load(), newAPIClient(opts.apiURL), skip)
		},
	}
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Checks to skip: postgres, redis, proxy, kafka")
	return cmd
}

func runReadiness(ctx context.Context, p *printer, cfg *config.Config, api *apiClient, skip []string) error {
	skipped := map[string]bool{}
	for _, s := range skip {
		skipped[strings.ToLower(strings.TrimSpace(s))] = true
	}

	p.section("Configuration")
	reportConfig(p, cfg.Validate())

	p.section("Dependencies")
	var failures []string
	check := func(name string, fn func() (string, error)) {
		if skipped[name] {
			p.note("%s skipped", name)
			return
		}
		detail, err := fn()
		if err != nil {
			p.bad("%s: %v", name, err)
			failures = append(failures, name)
			return
		}
		p.ok("%s %s", name, detail)
	}

	check("postgres", func() (string, error) { return pingPostgres(ctx, cfg.Database.DSN) })
	check("redis", func() (string, error) { return pingRedis(ctx, cfg.Redis) })
	check("proxy", func() (string, error) { return proxyStatus(ctx, p, api) })
	if cfg.Kafka.Enabled {
		check("kafka", func() (string, error) { return kafkaTopics(ctx, cfg.Kafka) })
	}

	if len(failures) > 0 {
		return fmt.Errorf("readiness failed: %s", strings.Join(failures, ", "))
	}
	return nil
}

func reportConfig(p *printer, missing map[string][]string) {
	features := make([]string, 0, len(missing))
	for f := range missing {
		features = append(features, f)
	}
	sort.Strings(features)

	for _, f := range features {
		if keys := missing[f]; len(keys) > 0 {
			p.note("%-9s missing %s", f, strings.Join(keys, ", "))
			continue
		}
		p.ok("%-9s configured", f)
	}
}

func pingPostgres(ctx context.Context, dsn string) (string, error) {
	if dsn == "" {
		return "", errors.New("POSTGRES_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return "", err
	}
	return "reachable", nil
}

func pingRedis(ctx context.Context, cfg config.RedisConfig) (string, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("reachable at %s (db=%d)", cfg.Addr, cfg.DB), nil
}

func kafkaTopics(ctx context.Context, cfg config.KafkaConfig) (string, error) {
	missing, err := kafka.MissingTopics(ctx, cfg.Brokers, cfg.Topics.All())
	if err != nil {
		return "", err
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("topics missing: %s", strings.Join(missing, ", "))
	}
	return fmt.Sprintf("all %d topics present on %s", len(cfg.Topics.All()), strings.Join(cfg.Brokers, ",")), nil
}

func proxyStatus(ctx context.Context, p *printer, api *apiClient) (string, error) {
	var health proxyHealth
	if err := api.do(ctx, http.MethodGet, "/api/payments", "", nil, &health); err != nil {
		return "", err
	}
	names := make([]string, 0, len(health.Providers))
	for name := range health.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ph := health.Providers[name]
		switch {
		case ph.Enabled:
			p.ok("provider %s enabled", name)
		case ph.Configured:
			p.note("provider %s configured but not registered", name)
		default:
			p.note("provider %s disabled", name)
		}
	}
	if health.Status != "ok" {
		return "", fmt.Errorf("proxy %s (database %s)", health.Status, health.Database)
	}
	return fmt.Sprintf("ok (%s, default provider %q)", health.Environment, health.DefaultProvider), nil
}
