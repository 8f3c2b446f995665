package scheduler

import (
	"context"
	"fmt"

	"leadgate_backend/platform/config"
	"leadgate_backend/platform/logger"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
)

// Worker consumes the sweep and dispatch tasks, and owns the periodic
// schedule that enqueues them.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	sweep     *Sweep
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, sweep *Sweep, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	periodic := asynq.NewScheduler(opt, nil)
	sweepEvery := cfg.GetSweepInterval()
	if _, err := periodic.Register(
		fmt.Sprintf("@every %s", sweepEvery),
		NewLeadsSweepTask(), asynq.Queue(queue),
	); err != nil {
		return nil, err
	}
	if _, err := periodic.Register(
		"@every 1m",
		NewDeliveryDispatchTask(), asynq.Queue(queue),
	); err != nil {
		return nil, err
	}

	mux := asynq.NewServeMux()
	w := &Worker{
		server:    server,
		scheduler: periodic,
		mux:       mux,
		sweep:     sweep,
		log:       log,
	}

	mux.HandleFunc(TaskLeadsSweep, w.handleLeadsSweep)
	mux.HandleFunc(TaskDeliveryDispatch, w.handleDeliveryDispatch)

	return w, nil
}

func (w *Worker) handleLeadsSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := w.sweep.RunSweep(ctx)
	return err
}

func (w *Worker) handleDeliveryDispatch(ctx context.Context, _ *asynq.Task) error {
	attempted, err := w.sweep.DispatchDeliveries(ctx)
	if err != nil {
		return err
	}
	if attempted > 0 {
		w.log.Info("deliveries dispatched", "attempted", attempted)
	}
	return nil
}

// Run starts the periodic schedule and the task server, blocking until the
// context is cancelled and both have shut down.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.scheduler.Shutdown()
		w.server.Shutdown()
	}()

	var g errgroup.Group
	g.Go(func() error {
		return w.scheduler.Run()
	})
	g.Go(func() error {
		return w.server.Run(w.mux)
	})
	if err := g.Wait(); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
