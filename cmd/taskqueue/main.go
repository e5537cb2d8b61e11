package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/taskqueue/events"
	"github.com/aristath/taskqueue/internal/config"
	"github.com/aristath/taskqueue/scheduler"
)

func main() {
	var (
		pipelinePath = flag.String("pipeline", "", "pipeline config file (default: conventional paths)")
		verbose      = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		cfg *config.PipelineConfig
		err error
	)
	if *pipelinePath != "" {
		cfg, err = config.Load("", *pipelinePath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.Tasks) == 0 {
		fmt.Fprintln(os.Stderr, "No tasks configured; nothing to do")
		os.Exit(1)
	}

	if err := run(ctx, logger, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.PipelineConfig) error {
	bus := events.NewBus()
	defer bus.Close()

	sub := bus.SubscribeAll(0)
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		for ev := range sub.C {
			switch e := ev.(type) {
			case events.TaskStartedEvent:
				logger.Info("task started", "task", e.Name)
			case events.TaskProducedEvent:
				logger.Info("task produced", "task", e.Name, "child", e.ChildName)
			case events.TaskFinishedEvent:
				logger.Info("task finished", "task", e.Name, "canceled", e.Canceled, "errors", e.Errors)
			}
		}
	}()

	q := scheduler.NewQueue(scheduler.Config{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		Logger:        logger,
	})
	defer q.Close()

	tasks, err := buildTasks(logger, bus, cfg.Tasks)
	if err != nil {
		return err
	}
	if err := q.SubmitAll(tasksInOrder(cfg.Tasks, tasks)...); err != nil {
		return err
	}

	// Cancel everything when a shutdown signal arrives, then let Wait drain.
	go func() {
		<-ctx.Done()
		q.CancelAll()
	}()

	if err := q.Wait(context.Background()); err != nil {
		return err
	}

	bus.Close()
	<-logDone

	var failed int
	for _, t := range tasks {
		if len(t.Errors()) > 0 {
			failed++
			logger.Error("task failed", "task", t.Name(), "errors", t.Errors())
		}
	}
	logger.Info("pipeline complete", "tasks", len(tasks), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(tasks))
	}
	return nil
}

// buildTasks turns task configs into wired tasks: work functions, declared
// dependencies, exclusivity categories and bus observers.
func buildTasks(logger *slog.Logger, bus *events.Bus, configs []config.TaskConfig) (map[string]*scheduler.Task, error) {
	tasks := make(map[string]*scheduler.Task, len(configs))

	for _, tc := range configs {
		var t *scheduler.Task
		switch tc.Kind {
		case "delay":
			t = scheduler.NewNamedDelay(tc.Name, tc.Duration.Std())
		case "echo":
			msg, d := tc.Message, tc.Duration.Std()
			t = scheduler.NewSync(tc.Name, func(ctx context.Context) error {
				if d > 0 {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(d):
					}
				}
				logger.Info("echo", "message", msg)
				return nil
			})
		default:
			return nil, fmt.Errorf("task %q: unknown kind %q", tc.Name, tc.Kind)
		}

		for _, cat := range tc.Exclusive {
			if err := t.AddCondition(scheduler.Mutex(cat)); err != nil {
				return nil, fmt.Errorf("task %q: %w", tc.Name, err)
			}
		}
		if err := t.AddObserver(events.BusObserver{Bus: bus}); err != nil {
			return nil, fmt.Errorf("task %q: %w", tc.Name, err)
		}
		tasks[tc.Name] = t
	}

	for _, tc := range configs {
		for _, depName := range tc.DependsOn {
			if err := tasks[tc.Name].AddDependency(tasks[depName]); err != nil {
				return nil, fmt.Errorf("task %q depends on %q: %w", tc.Name, depName, err)
			}
		}
	}
	return tasks, nil
}

func tasksInOrder(configs []config.TaskConfig, tasks map[string]*scheduler.Task) []*scheduler.Task {
	ordered := make([]*scheduler.Task, 0, len(configs))
	for _, tc := range configs {
		ordered = append(ordered, tasks[tc.Name])
	}
	return ordered
}
