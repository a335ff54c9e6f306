package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/loom/pkg/config"
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/metrics"
	"github.com/cuemby/loom/pkg/rtlog"
	"github.com/cuemby/loom/pkg/runtime"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "loomd",
	Short:   "loomd drives a causally-consistent, time-travelable actor dataspace",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("loomd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("root", "./loom-data", "Runtime root directory")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(forkCmd)
	rootCmd.AddCommand(gotoCmd)
	rootCmd.AddCommand(backCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	rtlog.Init(rtlog.Config{Level: rtlog.Level(level), JSONOutput: jsonOut})
}

func openRuntime(cmd *cobra.Command) (*runtime.Runtime, error) {
	root, _ := cmd.Flags().GetString("root")
	return runtime.New(root)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Lay down a fresh runtime root on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")
		if err := runtime.Init(root, config.Default(root)); err != nil {
			return err
		}
		fmt.Printf("initialized loom runtime at %s\n", root)
		return nil
	},
}

var stepCmd = &cobra.Command{
	Use:   "step [n]",
	Short: "Execute the next ready turn, or n turns if given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		n := 1
		if len(args) == 1 {
			fmt.Sscanf(args[0], "%d", &n)
		}
		recs, err := r.StepN(n)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			fmt.Printf("turn %s actor=%s clock=%d\n", rec.TurnID, rec.Actor, rec.Clock)
		}
		fmt.Printf("executed %d turn(s)\n", len(recs))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the current branch, head turn, and pending queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		st, err := r.Status()
		if err != nil {
			return err
		}
		fmt.Printf("branch:     %s\n", st.Branch)
		fmt.Printf("head:       %s\n", st.Head)
		fmt.Printf("turn count: %d\n", st.TurnCount)
		fmt.Printf("pending:    %d\n", st.Pending)
		return nil
	},
}

var forkCmd = &cobra.Command{
	Use:   "fork <source> <name> <base-turn>",
	Short: "Fork a new branch from source at base-turn",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		b, err := r.Fork(ids.BranchId(args[0]), ids.BranchId(args[1]), turn.TurnID(args[2]))
		if err != nil {
			return err
		}
		fmt.Printf("forked %s from %s at %s\n", b.ID, args[0], args[2])
		return nil
	},
}

var gotoCmd = &cobra.Command{
	Use:   "goto <turn-id>",
	Short: "Replay the current branch to land exactly on turn-id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		return r.Goto(turn.TurnID(args[0]))
	},
}

var backCmd = &cobra.Command{
	Use:   "back <n>",
	Short: "Rewind the current branch n turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		var n uint64
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
			return err
		}
		return r.Back(n)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <actor-id> <text>",
	Short: "Enqueue an external message carrying a string payload to an actor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		var actorID ids.ActorId
		if err := actorID.UnmarshalText([]byte(args[0])); err != nil {
			return err
		}
		clock, err := r.SendMessage(actorID, value.String(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("enqueued at logical clock %d\n", clock)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list <assertions|capabilities|entities>",
	Short: "List a read-model view of the current branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		switch args[0] {
		case "assertions":
			rows, err := r.ListAssertions()
			if err != nil {
				return err
			}
			for _, row := range rows {
				fmt.Printf("%s %s %s\n", row.Actor, row.Handle, row.Value)
			}
		case "capabilities":
			rows, err := r.ListCapabilities()
			if err != nil {
				return err
			}
			for _, row := range rows {
				fmt.Printf("%s holder=%s kind=%s revoked=%v\n", row.ID, row.HolderActor, row.Kind, row.Revoked)
			}
		case "entities":
			rows, err := r.ListEntities()
			if err != nil {
				return err
			}
			for _, row := range rows {
				fmt.Printf("%s type=%s\n", row.Actor, row.TypeName)
			}
		default:
			return fmt.Errorf("unknown list target %q", args[0])
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /metrics, /health, /ready, and /live for an open runtime",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := openRuntime(cmd); err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("addr")
		metrics.SetVersion(Version)
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		fmt.Printf("serving on %s\n", addr)
		return http.ListenAndServe(addr, nil)
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:9090", "Listen address for the metrics/health endpoints")
}
