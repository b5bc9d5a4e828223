package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/burrowctf/burrow/pkg/catalog"
	"github.com/burrowctf/burrow/pkg/config"
	"github.com/burrowctf/burrow/pkg/log"
	"github.com/burrowctf/burrow/pkg/runtime"
)

var prestartCmd = &cobra.Command{
	Use:   "prestart",
	Short: "Build every challenge image",
	Long: `Build the Docker image of every challenge under the challenge
directory, then exit.

Run this once per host before 'burrow serve' so the first assignment
never waits on an image build.`,
	RunE: runPrestart,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Flush broker state and stop all containers",
	Long: `Flush every key in the state store and stop every container on
the Docker daemon except the configured infrastructure containers.

This wipes all assignments, ports, and counters. Meant for clearing a
host between events.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(prestartCmd)
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().Bool("force", false, "Confirm wiping all broker state")
}

func runPrestart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
	})

	rt, err := runtime.NewDockerRuntime()
	if err != nil {
		return fmt.Errorf("failed to create docker client: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	if err := rt.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach docker daemon: %v", err)
	}

	fmt.Printf("Building challenge images from %s...\n", cfg.ChallengeDir)

	cat := catalog.New(cfg.ChallengeDir, rt)
	if err := cat.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load challenges: %v", err)
	}

	for _, name := range cat.Names() {
		fmt.Printf("✓ %s\n", name)
	}
	broken := cat.Broken()
	names := make([]string, 0, len(broken))
	for name := range broken {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("✗ %s: %s\n", name, broken[name])
	}

	fmt.Printf("\n%d images built, %d broken\n", cat.Len(), len(broken))
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		return fmt.Errorf("reset wipes all broker state and containers; re-run with --force")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
	})

	ctx := context.Background()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.FlushAll(ctx); err != nil {
		return fmt.Errorf("failed to flush store: %v", err)
	}
	fmt.Println("✓ State store flushed")

	rt, err := runtime.NewDockerRuntime()
	if err != nil {
		return fmt.Errorf("failed to create docker client: %v", err)
	}
	defer rt.Close()

	containers, err := rt.ListContainers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list containers: %v", err)
	}

	stopped := 0
	for _, c := range containers {
		if isInfra(cfg, c.Names) {
			fmt.Printf("  skipping %s\n", containerLabel(c))
			continue
		}
		if err := rt.Stop(ctx, c.ID); err != nil {
			fmt.Fprintf(os.Stderr, "failed to stop %s: %v\n", containerLabel(c), err)
			continue
		}
		stopped++
	}
	fmt.Printf("✓ Stopped %d containers\n", stopped)
	return nil
}

func isInfra(cfg *config.Config, names []string) bool {
	for _, name := range names {
		if cfg.IsInfra(name) {
			return true
		}
	}
	return false
}

func containerLabel(c runtime.ContainerInfo) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}
