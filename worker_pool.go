package main

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a unit of fan-out work with no parameters or return value.
type Task func()

// WorkerPool runs fan-out deliveries across a fixed set of goroutines so a
// single busy channel can't spawn unbounded concurrency. Queue full means the
// caller falls back to delivering inline (dispatcher.go) rather than losing
// the frame.
type WorkerPool struct {
	workerCount  int
	taskQueue    chan Task
	ctx          context.Context
	wg           sync.WaitGroup
	droppedTasks int64
	logger       zerolog.Logger
}

func NewWorkerPool(workerCount int, queueSize int, logger zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		logger:      logger,
	}
}

// Start launches the worker goroutines. Must be called once before Submit.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.ctx = ctx
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case task := <-wp.taskQueue:
			if task != nil {
				wp.runTask(task)
			}
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("worker panic recovered, task failed")
			RecordError(ErrorTypeDispatch, ErrorSeverityCritical)
		}
	}()
	task()
}

// Submit enqueues a task. Returns false if the queue is full, in which case
// the task was not accepted and the caller must decide whether to run it
// inline or drop it.
func (wp *WorkerPool) Submit(task Task) bool {
	select {
	case wp.taskQueue <- task:
		return true
	default:
		atomic.AddInt64(&wp.droppedTasks, 1)
		return false
	}
}

// Stop closes the task queue and waits for in-flight tasks to finish.
// Submitting after Stop panics; callers must not call Submit concurrently
// with Stop.
func (wp *WorkerPool) Stop() {
	close(wp.taskQueue)
	wp.wg.Wait()
}

func (wp *WorkerPool) GetDroppedTasks() int64 { return atomic.LoadInt64(&wp.droppedTasks) }
func (wp *WorkerPool) GetQueueDepth() int     { return len(wp.taskQueue) }
func (wp *WorkerPool) GetQueueCapacity() int  { return cap(wp.taskQueue) }
