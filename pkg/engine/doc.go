/*
Package engine implements the per-controller sampling engine.

An engine moves through a fixed lifecycle:

	connecting -> discovering -> sampling -> draining -> closed

Connecting retries the first connection with a constant delay. Discovering
enumerates the bus, merges the configured device hints and replays
yesterday's and today's data files so the daily extrema survive a restart.
Sampling reads every active sensor once per period, stamps the record with
the midpoint of the cycle and appends it to the day's data file.

A cycle fails when the controller cannot be reached or the record cannot be
written; a single sensor that fails to read only leaves a gap in its column.
The engine gives up after more than MaxFails consecutive failed cycles.
Shutdown requested through the coordinator ends the engine at the next
connect attempt, read or sleep.
*/
package engine
