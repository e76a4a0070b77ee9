// Command procsupervisord owns the ProcessSupervisor lifecycle for the
// companion HTTP server child: start, stop, restart (build-first), and
// health, each a one-shot invocation against a YAML daemon config rather
// than a long-running loop of its own.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"runloop/internal/config"
	"runloop/internal/obslog"
	"runloop/internal/procsupervisor"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("procsupervisord")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "procsupervisord",
		Short: "Companion HTTP server process supervisor",
	}

	root.PersistentFlags().String("project-root", ".", "Project root containing .claude/procsupervisor.yaml")
	root.PersistentFlags().String("config", "", "Explicit daemon config path (overrides project-root default)")
	root.PersistentFlags().String("log-format", "text", "Log format: text|json")
	root.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")
	_ = v.BindPFlags(root.PersistentFlags())

	root.AddCommand(newStartCommand(v), newStopCommand(v), newRestartCommand(v), newHealthCommand(v))
	return root
}

func daemonConfigPath(v *viper.Viper) string {
	if p := v.GetString("config"); p != "" {
		return p
	}
	return filepath.Join(v.GetString("project-root"), ".claude", "procsupervisor.yaml")
}

func buildSupervisor(v *viper.Viper) (*procsupervisor.ProcessSupervisor, error) {
	obslog.Init(os.Stderr, v.GetString("log-format"), v.GetString("log-level"))
	log := obslog.NewComponentLogger("procsupervisord")

	daemonCfg, err := config.LoadDaemonConfig(daemonConfigPath(v))
	if err != nil {
		return nil, err
	}

	projectRoot := v.GetString("project-root")
	stateDir := daemonCfg.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(projectRoot, ".claude", "state", "procsupervisor")
	}

	cfg := procsupervisor.Config{
		ProjectRoot:  projectRoot,
		StateDir:     stateDir,
		Command:      daemonCfg.Command,
		Args:         daemonCfg.Args,
		WebPort:      daemonCfg.WebPort,
		BuildCommand: daemonCfg.BuildCommand,
		BuildArgs:    daemonCfg.BuildArgs,
		HealthURL:    daemonCfg.HealthURL,
	}
	if daemonCfg.StartupWaitMs > 0 {
		cfg.StartupWait = time.Duration(daemonCfg.StartupWaitMs) * time.Millisecond
	}
	if daemonCfg.PreflightTarget != "" {
		cfg.Preflight = []procsupervisor.PreflightFunc{preflightBinaryExists(daemonCfg.PreflightTarget)}
	}

	return procsupervisor.New(cfg, log), nil
}

// preflightBinaryExists checks that target resolves on PATH, the executor
// configuration preflight spec.md §4.4 requires before any spawn.
func preflightBinaryExists(target string) procsupervisor.PreflightFunc {
	return func() procsupervisor.PreflightCheck {
		if _, err := exec.LookPath(target); err != nil {
			return procsupervisor.PreflightCheck{
				Name:    "executor_binary",
				Passed:  false,
				Fatal:   true,
				Message: fmt.Sprintf("%q not found on PATH: %v", target, err),
				FixHint: "install or configure preflight_target to an executable on PATH",
			}
		}
		return procsupervisor.PreflightCheck{Name: "executor_binary", Passed: true}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newStartCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run preflight and spawn the companion server if not already running",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := buildSupervisor(v)
			if err != nil {
				return err
			}
			result := sup.Start(context.Background())
			printJSON(result)
			if !result.Success {
				return fmt.Errorf("start failed: %s", result.Error)
			}
			return nil
		},
	}
}

func newStopCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop the companion server",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := buildSupervisor(v)
			if err != nil {
				return err
			}
			return sup.Stop(context.Background())
		},
	}
}

func newRestartCommand(v *viper.Viper) *cobra.Command {
	var build bool
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the companion server, optionally rebuilding first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := buildSupervisor(v)
			if err != nil {
				return err
			}
			result := sup.Restart(context.Background(), procsupervisor.RestartOptions{Build: build})
			printJSON(result)
			if !result.Success {
				return fmt.Errorf("restart failed: %s", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&build, "build", false, "Run the configured build command before restarting")
	return cmd
}

func newHealthCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report liveness, HTTP health-probe status, and build metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := buildSupervisor(v)
			if err != nil {
				return err
			}
			result := sup.Health(context.Background())
			printJSON(result)
			if !result.Healthy {
				return fmt.Errorf("unhealthy: %s", result.Error)
			}
			return nil
		},
	}
}
