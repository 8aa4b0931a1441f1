/*
Package shutdown implements the process-wide graceful-shutdown coordinator.

Every sampling engine and the nightly maintenance task register with one
Coordinator created at startup. Any component may request shutdown; workers
observe it either with a lock-free check (IsShuttingDown) before expensive
work or by sleeping through SleepOrShutdown, which returns as soon as the
request is made.

# Lifecycle

	Active ──RequestShutdown / Finish──▶ ShutdownRequested ──workers == 0──▶ disposed

Shutdown is level-triggered: the flag is never cleared, so a check made at
any time after the request is reliable. Finish waits a bounded time for the
worker count to reach zero. When workers are left running it returns
ErrWorkersRemaining and keeps the coordinator alive, so a late
Deregister is still safe.

# Usage

	coord := shutdown.New()

	coord.Go(func() {
		for !coord.IsShuttingDown() {
			doWork()
			if coord.SleepOrShutdown(time.Minute) {
				return
			}
		}
	})

	<-signals
	if err := coord.Finish(10 * time.Second); err != nil {
		log.Logger.Error().Err(err).Msg("Workers did not exit")
	}

Context returns a context cancelled with the request, for libraries such as
backoff that accept one.
*/
package shutdown
