package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbusdaemon/procd/pkg/config"
	"github.com/nimbusdaemon/procd/pkg/daemon"
	"github.com/nimbusdaemon/procd/pkg/ipc"
	"github.com/nimbusdaemon/procd/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const dialTimeout = 2 * time.Second

// exitCodeError carries the exit-code contract from spec.md §6 through
// cobra's single error return: 1 for a user error, 2 for an unreachable
// daemon.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func userError(format string, a ...any) error {
	return &exitCodeError{code: 1, err: fmt.Errorf(format, a...)}
}

func unreachableError(err error) error {
	return &exitCodeError{code: 2, err: fmt.Errorf("daemon unreachable: %w", err)}
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var ece *exitCodeError
	if errors.As(err, &ece) {
		os.Exit(ece.code)
	}
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:           "procctl",
	Short:         "procctl controls a running procd daemon",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"procctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("socket", "", "IPC socket path (default: $PROCD_SOCKET, else <data dir>/sock, where the data dir is $PROCD_HOME or the per-user runtime dir)")

	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, deleteCmd, scaleCmd,
		listCmd, logsCmd, monitCmd, statusCmd, saveCmd, loadCmd, initCmd)
}

// dial connects to the daemon's socket. Path resolution defers entirely to
// pkg/daemon.Config.ApplyDefaults, the same code the daemon itself runs, so
// a zero-flag, zero-env-var `procctl` reaches a zero-flag, zero-env-var
// `procd` instead of failing in front of a daemon that's actually listening.
func dial(cmd *cobra.Command) (*ipc.Client, error) {
	socketPath, _ := cmd.Flags().GetString("socket")

	cfg := daemon.Config{SocketPath: socketPath}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, userError("resolve daemon socket path: %v", err)
	}

	client, err := ipc.Dial(cfg.SocketPath, dialTimeout)
	if err != nil {
		return nil, unreachableError(err)
	}
	return client, nil
}

func call(cmd *cobra.Command, command ipc.Command, payload any, out any) error {
	client, err := dial(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Call(command, payload)
	if err != nil {
		return unreachableError(err)
	}
	if !resp.Success {
		return userError("%s", resp.Error)
	}
	if out == nil {
		return nil
	}
	return resp.DecodeInto(out)
}

var startCmd = &cobra.Command{
	Use:   "start <script|ecosystem.json>",
	Short: "Start a process or every app in an ecosystem file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		name, _ := cmd.Flags().GetString("name")
		instances, _ := cmd.Flags().GetString("instances")
		envPairs, _ := cmd.Flags().GetStringSlice("env")

		var configs []*types.ProcessConfig
		if strings.HasSuffix(target, ".json") {
			loaded, errs := config.Load(target)
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(os.Stderr, e.Error())
				}
				return userError("invalid ecosystem file: %s", target)
			}
			configs = loaded
		} else {
			cfg, err := singleProcessConfig(target, name, instances, envPairs)
			if err != nil {
				return err
			}
			configs = []*types.ProcessConfig{cfg}
		}

		for _, cfg := range configs {
			if err := call(cmd, ipc.CmdStart, cfg, nil); err != nil {
				return err
			}
			fmt.Printf("started %s\n", cfg.ID)
		}
		return nil
	},
}

func singleProcessConfig(script, name, instances string, envPairs []string) (*types.ProcessConfig, error) {
	abs, err := filepath.Abs(script)
	if err != nil {
		return nil, userError("resolve script path: %v", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, userError("script file does not exist: %s", abs)
	}

	if name == "" {
		base := filepath.Base(abs)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	n := 1
	if instances != "" {
		if strings.EqualFold(instances, "max") {
			n = maxInstances()
		} else {
			parsed, err := strconv.Atoi(instances)
			if err != nil || parsed <= 0 {
				return nil, userError("--instances must be a positive integer or \"max\"")
			}
			n = parsed
		}
	}

	env := make(map[string]string, len(envPairs))
	for _, kv := range envPairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, userError("--env must be in KEY=VALUE form, got %q", kv)
		}
		env[k] = v
	}

	return &types.ProcessConfig{
		ID:             name,
		Name:           name,
		Script:         abs,
		Cwd:            filepath.Dir(abs),
		Env:            env,
		Instances:      n,
		AutoRestart:    true,
		MaxRestarts:    10,
		RestartDelayMs: 1000,
	}, nil
}

var stopCmd = &cobra.Command{
	Use:   "stop <name|id>",
	Short: "Stop a process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(cmd, ipc.CmdStop, ipc.IdentifierPayload{Identifier: args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("stopped %s\n", args[0])
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <name|id>",
	Short: "Restart a process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(cmd, ipc.CmdRestart, ipc.IdentifierPayload{Identifier: args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("restarted %s\n", args[0])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <name|id>",
	Aliases: []string{"del"},
	Short:   "Stop and remove a process",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if err := call(cmd, ipc.CmdDelete, ipc.DeletePayload{Identifier: args[0], Force: force}, nil); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var scaleCmd = &cobra.Command{
	Use:   "scale <name|id> <n>",
	Short: "Scale a process to n instances",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return userError("instance count must be an integer, got %q", args[1])
		}
		if err := call(cmd, ipc.CmdScale, ipc.ScalePayload{ConfigID: args[0], Instances: n}, nil); err != nil {
			return err
		}
		fmt.Printf("scaled %s to %d\n", args[0], n)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List managed processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []types.ListEntry
		if err := call(cmd, ipc.CmdList, nil, &entries); err != nil {
			return err
		}
		printEntries(entries)
		return nil
	},
}

var monitCmd = &cobra.Command{
	Use:   "monit",
	Short: "Show live resource usage for managed processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []types.ListEntry
		if err := call(cmd, ipc.CmdMonit, nil, &entries); err != nil {
			return err
		}
		printEntries(entries)
		return nil
	},
}

func printEntries(entries []types.ListEntry) {
	if len(entries) == 0 {
		fmt.Println("no processes")
		return
	}
	fmt.Printf("%-20s %-8s %-10s %-6s %-8s %-10s %s\n", "NAME", "PID", "STATUS", "RESTART", "CPU%", "MEMORY", "UPTIME")
	for _, e := range entries {
		fmt.Printf("%-20s %-8d %-10s %-6d %-8.1f %-10s %s\n",
			e.ID, e.PID, e.Status, e.RestartCount, e.CPUPercent,
			formatBytes(e.MemoryBytes), time.Duration(e.UptimeMs*int64(time.Millisecond)))
	}
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

var logsCmd = &cobra.Command{
	Use:   "logs <name|id>",
	Short: "Show or stream a process's captured output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")
		filter, _ := cmd.Flags().GetString("filter")
		useRegex, _ := cmd.Flags().GetBool("regex")
		stream, _ := cmd.Flags().GetBool("stream")

		if stream {
			return streamLogs(cmd, args[0], lines, filter, useRegex)
		}

		var data ipc.LogsData
		payload := ipc.LogsPayload{Identifier: args[0], Lines: lines, Filter: filter, UseRegex: useRegex}
		if err := call(cmd, ipc.CmdLogs, payload, &data); err != nil {
			return err
		}
		for _, l := range data.Lines {
			fmt.Printf("[%s] %s\n", l.Stream, l.Text)
		}
		return nil
	},
}

func streamLogs(cmd *cobra.Command, identifier string, lines int, filter string, useRegex bool) error {
	client, err := dial(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ch, stop, err := client.StreamLogs(identifier, lines, filter, useRegex)
	if err != nil {
		return unreachableError(err)
	}
	defer stop()

	for line := range ch {
		if line.Stream == types.StreamMeta {
			fmt.Fprintln(os.Stderr, line.Text)
			return nil
		}
		fmt.Printf("[%s] %s\n", line.Stream, line.Text)
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon-level status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status ipc.StatusData
		if err := call(cmd, ipc.CmdStatus, nil, &status); err != nil {
			return err
		}
		fmt.Printf("socket:   %s\n", status.SocketPath)
		fmt.Printf("data dir: %s\n", status.DataDir)
		fmt.Printf("uptime:   %s\n", status.Uptime)
		fmt.Printf("configs:  %d (running %d, errored %d)\n", status.ConfigCount, status.RunningCount, status.ErroredCount)
		return nil
	},
}

var saveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Persist the running set of configs to an ecosystem file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		if err := call(cmd, ipc.CmdSave, ipc.FilePayload{Path: path}, nil); err != nil {
			return err
		}
		fmt.Println("saved")
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load [path]",
	Short: "Start every app described by a saved ecosystem file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		var data ipc.LoadData
		if err := call(cmd, ipc.CmdLoad, ipc.FilePayload{Path: path}, &data); err != nil {
			return err
		}
		for _, id := range data.Started {
			fmt.Printf("started %s\n", id)
		}
		for _, e := range data.Errors {
			fmt.Fprintln(os.Stderr, e)
		}
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a sample ecosystem file to start from",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "ecosystem.json"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.Sample(path); err != nil {
			return userError("write sample ecosystem file: %v", err)
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	startCmd.Flags().String("name", "", "Override the derived process name")
	startCmd.Flags().String("instances", "", "Number of instances, or \"max\" for one per CPU core")
	startCmd.Flags().StringSlice("env", nil, "Environment variables (KEY=VALUE), repeatable")

	deleteCmd.Flags().BoolP("force", "f", false, "Force-kill instead of a graceful stop")

	logsCmd.Flags().Int("lines", 50, "Number of lines to show (not applied with --stream)")
	logsCmd.Flags().String("filter", "", "Only show lines matching this substring or regex (not applied with --stream)")
	logsCmd.Flags().Bool("regex", false, "Treat --filter as a regular expression")
	logsCmd.Flags().Bool("stream", false, "Keep following new output")
}

func maxInstances() int {
	return runtime.NumCPU()
}
