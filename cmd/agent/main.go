package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypernode-labs/engine/internal/agent"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "Hypernode worker agent",
		Long:  `A worker node agent that registers GPU capacity with the engine and keeps its availability heartbeat alive.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "agent.toml", "config file")

	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this node with the engine",
		Long:  `Register this node's GPU capacity with the engine and save the issued token to the config file.`,
		RunE:  runRegister,
	}

	cmd.Flags().String("engine-url", "http://localhost:3002", "Engine API URL")
	cmd.Flags().String("node-id", "", "Node identifier (required)")
	cmd.Flags().String("identity", "", "Owner wallet identity")
	cmd.Flags().String("gpu-model", "", "GPU model, e.g. RTX4090")
	cmd.Flags().Int("vram", 0, "GPU memory in GB")
	cmd.MarkFlagRequired("node-id")

	return cmd
}

func runRegister(cmd *cobra.Command, args []string) error {
	engineURL, _ := cmd.Flags().GetString("engine-url")
	nodeID, _ := cmd.Flags().GetString("node-id")
	identity, _ := cmd.Flags().GetString("identity")
	gpuModel, _ := cmd.Flags().GetString("gpu-model")
	vram, _ := cmd.Flags().GetInt("vram")

	cfg := &agent.Config{
		EngineURL: engineURL,
		NodeID:    nodeID,
		Identity:  identity,
		GPUModel:  gpuModel,
		VRAMGb:    vram,
	}

	client := agent.NewClient(cfg)
	resp, err := client.Register(cmd.Context(), agent.RegisterRequest{
		NodeID:   nodeID,
		Identity: identity,
		GPUModel: gpuModel,
		VRAMGb:   vram,
	})
	if err != nil {
		return fmt.Errorf("failed to register with engine: %w", err)
	}

	cfg.Token = resp.Token
	if err := cfg.Save(cfgFile); err != nil {
		return err
	}

	fmt.Printf("Node registered successfully!\n")
	fmt.Printf("Node ID: %s\n", resp.NodeID)
	fmt.Printf("Reputation: %d\n", resp.ReputationScore)
	fmt.Printf("Config saved to: %s\n", cfgFile)

	return nil
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report a job outcome",
		Long:  `Report the outcome of a job assigned to this node so the engine can close it out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString("job-id")
			failed, _ := cmd.Flags().GetBool("failed")

			cfg, err := agent.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			client := agent.NewClient(cfg)
			if err := client.Report(cmd.Context(), jobID, !failed); err != nil {
				return err
			}

			fmt.Printf("Outcome recorded for job %s\n", jobID)
			return nil
		},
	}

	cmd.Flags().String("job-id", "", "Job identifier (required)")
	cmd.Flags().Bool("failed", false, "Report the job as failed instead of completed")
	cmd.MarkFlagRequired("job-id")

	return cmd
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the heartbeat loop",
		Long:  `Start the agent and keep the node visible to the matchmaker by sending periodic heartbeats.`,
		RunE:  runStart,
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("config has no node_id, run register first")
	}

	client := agent.NewClient(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// First beat immediately so the node becomes matchable without waiting a
	// full interval.
	if err := client.Heartbeat(ctx); err != nil {
		log.Printf("Heartbeat failed: %v", err)
	} else {
		log.Printf("Node %s online", cfg.NodeID)
	}

	go func() {
		ticker := time.NewTicker(time.Duration(cfg.HeartbeatSeconds) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.Heartbeat(ctx); err != nil {
					log.Printf("Heartbeat failed: %v", err)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down agent...")
	return nil
}
