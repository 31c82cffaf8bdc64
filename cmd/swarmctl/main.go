// Package main provides the CLI entry point for swarmcore.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/hivemesh/swarmcore/pkg/swarmcore"
)

var version = "0.3.0"

var (
	configPath string

	demoWorkers  int
	demoQueens   int
	demoTasks    int
	demoTopology string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarmctl",
	Short: "Swarmcore - swarm coordination and consensus engine",
	Long: `Swarmctl drives the swarmcore coordination engine: an agent
registry with heartbeat health tracking, topology-aware task
distribution, and quorum consensus among Queen agents.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	demoCmd.Flags().IntVar(&demoWorkers, "workers", 4, "number of simulated worker agents")
	demoCmd.Flags().IntVar(&demoQueens, "queens", 3, "number of Queen agents")
	demoCmd.Flags().IntVar(&demoTasks, "tasks", 12, "number of tasks to submit")
	demoCmd.Flags().StringVar(&demoTopology, "topology", "", "topology kind (mesh|hierarchical|ring|star), empty for auto")

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(topologiesCmd)
	rootCmd.AddCommand(configCmd)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// ============================================================================
// Demo Command
// ============================================================================

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a simulated swarm end to end",
	Long: `Spin up an in-process swarm with simulated agents, submit a batch
of tasks, and print the resulting event stream and status summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := swarmcore.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log.Level)
		if err != nil {
			return err
		}
		defer logger.Sync()

		swarm, err := swarmcore.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("create swarm: %w", err)
		}
		defer swarm.Shutdown()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		swarm.Start(ctx)

		for i := 1; i <= demoQueens; i++ {
			id := fmt.Sprintf("queen-%d", i)
			if _, err := swarm.RegisterAgent(swarmcore.AgentConfig{
				ID: id, Capabilities: []string{"coordinate"}, MaxLoad: 4, Queen: true,
			}); err != nil {
				return err
			}
		}
		capabilities := [][]string{{"build"}, {"test"}, {"build", "test"}, {"deploy", "build"}}
		for i := 1; i <= demoWorkers; i++ {
			id := fmt.Sprintf("worker-%d", i)
			if _, err := swarm.RegisterAgent(swarmcore.AgentConfig{
				ID:           id,
				Capabilities: capabilities[i%len(capabilities)],
				MaxLoad:      2,
			}); err != nil {
				return err
			}
		}

		if demoTopology != "" || demoWorkers+demoQueens > 8 {
			if _, proposal, err := swarm.SwitchTopology(swarmcore.TopologyKind(demoTopology), swarmcore.SelectionContext{}); err != nil {
				return err
			} else if proposal != nil {
				// Queens approve their own reorganization.
				for i := 1; i <= demoQueens; i++ {
					if _, err := swarm.Vote(proposal.ID, fmt.Sprintf("queen-%d", i), swarmcore.VoteApprove); err != nil {
						logger.Warn("demo vote failed", zap.Error(err))
					}
				}
			}
		}

		done := make(chan struct{})
		remaining := demoTasks
		terminal, sub := swarm.Events()
		g, ctx := errgroup.WithContext(ctx)

		// Simulated agents: heartbeat and execute whatever lands on them.
		assigned, assignedSub := swarm.Subscribe(swarmcore.EventTaskAssigned)
		g.Go(func() error {
			defer swarm.Unsubscribe(assignedSub)
			for {
				select {
				case <-ctx.Done():
					return nil
				case e, ok := <-assigned:
					if !ok {
						return nil
					}
					agentID, _ := e.Details["agentId"].(string)
					taskID := e.EntityID
					g.Go(func() error {
						_ = swarm.MarkTaskRunning(taskID, agentID)
						select {
						case <-ctx.Done():
							return nil
						case <-time.After(time.Duration(10+rand.Intn(40)) * time.Millisecond):
						}
						return swarm.ReportTaskResult(swarmcore.TaskResult{
							TaskID: taskID, AgentID: agentID, Success: true,
						})
					})
				}
			}
		})
		g.Go(func() error {
			defer swarm.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return nil
				case e, ok := <-terminal:
					if !ok {
						return nil
					}
					fmt.Printf("%-20s %-14s %s\n", e.Kind, e.EntityID, e.State)
					switch e.Kind {
					case swarmcore.EventTaskCompleted, swarmcore.EventTaskFailed, swarmcore.EventTaskCancelled:
						remaining--
						if remaining == 0 {
							close(done)
						}
					}
				}
			}
		})
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Registry.HeartbeatInterval / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					for i := 1; i <= demoQueens; i++ {
						_ = swarm.Heartbeat(fmt.Sprintf("queen-%d", i))
					}
					for i := 1; i <= demoWorkers; i++ {
						_ = swarm.Heartbeat(fmt.Sprintf("worker-%d", i))
					}
				}
			}
		})

		priorities := []swarmcore.TaskPriority{swarmcore.PriorityHigh, swarmcore.PriorityMedium, swarmcore.PriorityLow}
		for i := 1; i <= demoTasks; i++ {
			if _, err := swarm.SubmitTask(swarmcore.TaskConfig{
				ID:           fmt.Sprintf("task-%d", i),
				Capabilities: capabilities[i%len(capabilities)][:1],
				Priority:     priorities[i%len(priorities)],
			}); err != nil {
				return fmt.Errorf("submit task: %w", err)
			}
		}

		select {
		case <-done:
		case <-ctx.Done():
		case <-time.After(30 * time.Second):
			fmt.Println("demo timed out waiting for tasks")
		}
		cancel()
		if err := g.Wait(); err != nil {
			return err
		}

		status := swarm.GetStatus()
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("\nFinal status:\n%s\n", out)
		return nil
	},
}

// ============================================================================
// Topologies Command
// ============================================================================

var topologiesCmd = &cobra.Command{
	Use:   "topologies",
	Short: "Describe the supported coordination topologies",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(`Supported topologies:

  mesh          Fully connected peers. Every capable agent is a routing
                candidate. Best for small swarms and collaborative work.

  hierarchical  B-ary tree rooted at a Queen. Work flows down from the
                root; capable agents nearest the root are preferred.
                Selected automatically for large populations.

  ring          Id-ordered cycle with round-robin hand-off. Suits
                pipeline workloads with high dependency density.

  star          Central hub brokers all work. Suits centralized
                workloads; the hub's capacity bounds throughput.

Pass --topology to 'swarmctl demo', or leave it empty to let the
engine pick from population size and workload signals.`)
	},
}

// ============================================================================
// Config Command
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := swarmcore.LoadConfig(configPath)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
