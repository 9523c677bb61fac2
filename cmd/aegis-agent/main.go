package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ghalamif/AegisAgent"
)

const version = "0.1.0"

func main() {
	viper.SetEnvPrefix("AEGIS")
	viper.AutomaticEnv()
	viper.SetDefault("config", "./data/config.yaml")

	rootCmd := &cobra.Command{
		Use:           "aegis-agent",
		Short:         "Device-resident security event agent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to agent configuration file (env AEGIS_CONFIG)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(runCmd(), validateCmd(), statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aegis-agent: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the agent using the provided config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			agent, err := aegisagent.New(cfg)
			if err != nil {
				return fmt.Errorf("build agent: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return agent.Run(ctx)
		},
	}
	cmd.Flags().String("log-level", "", "Override log.level (env AEGIS_LOG_LEVEL)")
	cmd.Flags().String("metrics-addr", "", "Override metrics.addr (env AEGIS_METRICS_ADDR)")
	_ = viper.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("metrics_addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting the agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good\n", viper.GetString("config"))
			return nil
		},
	}
}

func loadConfig() (*aegisagent.Config, error) {
	path := viper.GetString("config")
	cfg, err := aegisagent.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if lvl := viper.GetString("log_level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if addr := viper.GetString("metrics_addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	return cfg, nil
}

// statTargets are summed across all label sets and printed in this order.
var statTargets = []string{
	"aegis_events_sent_total",
	"aegis_events_lost_total",
	"aegis_events_discarded_total",
	"aegis_queue_length",
	"aegis_delivery_connected",
}

func statsCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Poll the Prometheus metrics endpoint and print live counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Streaming metrics from %s (Ctrl+C to stop)\n", url)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := printSnapshot(ctx, cmd, url); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "stats error: %v\n", err)
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")
	return cmd
}

func printSnapshot(ctx context.Context, cmd *cobra.Command, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("[%s]", time.Now().Format(time.RFC3339))
	for _, name := range statTargets {
		line += fmt.Sprintf(" %s=%g", name, sumFamily(families[name]))
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
	return nil
}

func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.GetCounter() != nil:
			total += m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			total += m.GetGauge().GetValue()
		case m.GetUntyped() != nil:
			total += m.GetUntyped().GetValue()
		}
	}
	return total
}
