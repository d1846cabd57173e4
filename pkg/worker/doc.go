/*
Package worker provides the goroutine pool that delivers task callbacks.

# Overview

Callbacks registered on a task (attempt, finished, exhausted, abandoned) must
never run on the goroutines that pop and execute tasks, otherwise a slow or
blocking callback would stall scheduling. This package supplies:
  - FixedWorkerPool: a fixed number of workers reading from a buffered job channel
  - Worker: a single goroutine with panic recovery and statistics
  - CallbackDispatcher: a types.Dispatcher built on FixedWorkerPool

# Delivery guarantees

CallbackDispatcher.Dispatch never blocks and never drops a callback. When the
job channel is full, or the pool was already shut down, the callback runs on a
detached goroutine. Such fallbacks are counted in DispatcherStats and a
throttled warning is logged.

A panicking callback is recovered, logged with its stack and counted as
failed. It never reaches the scheduler.

# Usage

	dispatcher, err := worker.NewCallbackDispatcher(&worker.FixedWorkerPoolConfig{
		PoolSize:  4,
		QueueSize: 256,
		Logger:    &logger,
	})
	if err != nil {
		return err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	defer dispatcher.Shutdown(context.Background())

	dispatcher.Dispatch("task-1a2b3c4d", func() {
		log.Println("attempt finished")
	})

# Shutdown

FixedWorkerPool.Shutdown closes the job channel under a write lock so no
TrySubmit can race with the close, then waits for the workers to finish every
job already queued. If the context ends first the workers are cancelled.
*/
package worker
