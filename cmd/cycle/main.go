// cycle runs a single scheduler job and exits. It is meant for an external
// scheduler such as cron when SCHEDULER_ENABLED=false:
//
//	cycle usage-cycle
//	cycle --job retry --worker-count 10
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/aaa"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/cache"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/config"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/database"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/engine"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/env"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/routeragent"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var jobName string
	var workerCount int

	flagSet := pflag.NewFlagSet("cycle", pflag.ContinueOnError)
	flagSet.StringVar(&jobName, "job", "", "job to run: "+jobList())
	flagSet.IntVar(&workerCount, "worker-count", 0, "override WORKER_COUNT for this run")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if jobName == "" && flagSet.NArg() > 0 {
		jobName = flagSet.Arg(0)
	}
	if jobName == "" {
		printHelp(flagSet)
		return fmt.Errorf("no job given")
	}
	job, err := scheduler.ParseJob(jobName)
	if err != nil {
		return err
	}

	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if workerCount > 0 {
		cfg.WorkerCount = workerCount
	}
	database.SetupDatabase(cfg.Database)
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	agent := routeragent.NewHTTPClientFromConfig(cfg.RouterAgent)
	e := engine.New(cfg, repository.GetGlobalRepositories(), aaa.NewGormStore(database.GetDB()), agent, clock.Real())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, runErr := e.Runner.Run(ctx, job)
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if runErr != nil {
		return runErr
	}
	if summary.FailedCount() > 0 {
		return fmt.Errorf("%s: %d entities failed", job, summary.FailedCount())
	}
	return nil
}

func jobList() string {
	names := make([]string, 0, len(scheduler.Jobs))
	for _, j := range scheduler.Jobs {
		names = append(names, strings.ReplaceAll(string(j), "_", "-"))
	}
	return strings.Join(names, ", ")
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: cycle [--job] <job> [flags]\n\nJobs: %s\n\nFlags:\n", jobList())
	flagSet.PrintDefaults()
}
