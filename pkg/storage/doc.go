/*
Package storage persists collector state in a BoltDB (bbolt) file.

The time-series data itself lives in the per-day .dat files written by
package tsfile. The store keeps what those files do not: the runtime status
of every controller and the daily extrema summaries recorded at midnight
rollover.

# Buckets

	status      <controller>             → types.ControllerStatus
	summaries   <controller>/<YYYYMMDD>  → types.DailySummary

Values are JSON encoded with goccy/go-json. Summary keys sort by controller
and then by day, so ListSummaries is a single cursor seek.

# Usage

	store, err := storage.NewBoltStore("/var/lib/owlog/owlog.db")
	if err != nil {
		return err
	}
	defer store.Close()

	status, err := store.GetStatus("garden")
	if errors.Is(err, storage.ErrNotFound) {
		// engine has not run yet
	}

Open fails after one second when another process holds the file lock.
*/
package storage
