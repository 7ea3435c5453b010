// Command demo boots a small runtime tree and runs one task against
// it, wiring cobra for the CLI surface and viper for config discovery
// the way agentic-memorizer's command tree loads its config package
// before dispatching to a subcommand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	runtime "github.com/cascadehq/runtime"
)

type demoConfig struct {
	Greeting string `mapstructure:"greeting"`
}

func loadConfig(path string) (demoConfig, error) {
	v := viper.New()
	v.SetDefault("greeting", "hello from the kernel")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return demoConfig{}, fmt.Errorf("reading config: %w", err)
		}
	}
	var cfg demoConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return demoConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

var clockResource = runtime.DefineResource(runtime.ResourceOptions{
	ID: "demo.clock",
	Init: func(rc *runtime.RunContext) (any, error) {
		return time.Now(), nil
	},
})

var rootResource = runtime.DefineResource(runtime.ResourceOptions{
	ID: "demo.root",
	Register: []any{
		clockResource,
		greetTask,
	},
	Init: func(rc *runtime.RunContext) (any, error) {
		cfg, _ := rc.Input.(demoConfig)
		return cfg, nil
	},
})

var greetTask = runtime.DefineTask(runtime.TaskOptions{
	ID: "demo.greet",
	Dependencies: runtime.Dependencies{
		"root":  rootResource,
		"clock": clockResource,
	},
	Run: func(rc *runtime.RunContext) (any, error) {
		cfg, _ := rc.Deps["root"].(demoConfig)
		at, _ := rc.Deps["clock"].(time.Time)
		return fmt.Sprintf("%s (booted at %s)", cfg.Greeting, at.Format(time.RFC3339)), nil
	},
})

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Boot the runtime kernel and run the demo greet task",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := runtime.NewLogger(os.Stderr)
			ctx := context.Background()
			metrics := runtime.NewMetrics(prometheus.DefaultRegisterer)

			result, err := runtime.Run(ctx, rootResource.With(cfg), runtime.RunOptions{
				Logger:        logger,
				ErrorBoundary: true,
				Metrics:       metrics,
			})
			if err != nil {
				return fmt.Errorf("boot failed: %w", err)
			}
			defer func() {
				if derr := result.Dispose(ctx); derr != nil {
					logger.Error("dispose failed", "err", derr)
				}
			}()

			out, err := result.RunTask(ctx, greetTask.ID(), nil)
			if err != nil {
				return fmt.Errorf("task failed: %w", err)
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
