// Package main provides a benchmark tool for the task queue to measure enqueue and
// processing throughput. It enqueues a large number of no-op tasks and measures the
// time until the queue is drained.
//
// Usage:
//
//	go run ./benchmark -tasks 100000 -producers 10
//
// With -process=false the tool only enqueues and then waits for external workers
// (cmd/worker) to drain the queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/taskqueue/pkg/queue"
	"github.com/guido-cesarano/taskqueue/pkg/store"
	"github.com/guido-cesarano/taskqueue/pkg/tasks"
	"golang.org/x/sync/errgroup"
)

const benchmarkTask = "benchmark.noop"

func main() {
	addr := flag.String("redis", "localhost:6379", "Redis address")
	numTasks := flag.Int("tasks", 100000, "Number of tasks to enqueue")
	numProducers := flag.Int("producers", 10, "Number of concurrent enqueuers")
	queueName := flag.String("queue", "benchmark", "Queue to fill")
	prefix := flag.String("prefix", "bench:", "Key prefix isolating benchmark data")
	process := flag.Bool("process", true, "Process tasks in this process instead of waiting for workers")
	flag.Parse()

	ctx := context.Background()
	rdb, err := store.Connect(ctx, store.RedisOptions{Addr: *addr, RetryAttempts: 1, ConnectTimeout: 5 * time.Second})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Redis not reachable at %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer rdb.Close()

	taskStore := store.New(store.NewRedisBackend(rdb), store.WithKeyPrefix(*prefix))
	engine := queue.NewEngine(taskStore, nil, queue.WithPollInterval(time.Millisecond))

	var processed atomic.Int64
	if err := engine.RegisterHandler(benchmarkTask, queue.HandlerFunc(func(context.Context, *tasks.Task) error {
		processed.Add(1)
		return nil
	})); err != nil {
		fmt.Fprintf(os.Stderr, "Register handler: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Task Queue Benchmark\n")
	fmt.Printf("====================\n")
	fmt.Printf("Tasks to enqueue: %d\n", *numTasks)
	fmt.Printf("Concurrent producers: %d\n\n", *numProducers)

	// Enqueue phase
	fmt.Printf("Starting enqueue phase...\n")
	startEnqueue := time.Now()

	var (
		g        errgroup.Group
		enqueued atomic.Int64
	)
	g.SetLimit(*numProducers)
	for i := range *numTasks {
		g.Go(func() error {
			_, err := engine.Enqueue(ctx, benchmarkTask, *queueName, map[string]any{"task": i}, queue.WithPriority(i%10))
			if err != nil {
				return err
			}
			enqueued.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Printf("Error enqueuing: %v\n", err)
	}
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("✓ Enqueued %d tasks in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	// Processing phase
	fmt.Printf("Waiting for all tasks to be processed...\n")
	startProcess := time.Now()
	if *process {
		engine.StartProcessing(ctx, *queueName)
	}

	lastReport := time.Now()
	for {
		remaining := engine.GetQueueSize(ctx, *queueName)
		if remaining == 0 {
			break
		}
		if time.Since(lastReport) >= 2*time.Second {
			fmt.Printf("  Remaining: %d tasks\n", remaining)
			lastReport = time.Now()
		}
		time.Sleep(50 * time.Millisecond)
	}
	if *process {
		if err := engine.StopProcessing(); err != nil {
			fmt.Printf("Stop: %v\n", err)
		}
	}

	processTime := time.Since(startProcess)

	fmt.Printf("\n✓ All tasks processed in %s\n", processTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n", float64(enqueued.Load())/processTime.Seconds())
	if *process {
		fmt.Printf("  Handled in-process: %d\n", processed.Load())
	}

	totalTime := enqueueTime + processTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", float64(enqueued.Load())/totalTime.Seconds())
}
