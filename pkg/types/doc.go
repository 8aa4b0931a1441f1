/*
Package types defines the core data structures shared by owlog components.

A Sensor is one device on a controller's bus; its Readings are the reading
slots (temperature, humidity, pressure, counters) that are sampled each cycle
and persisted as columns of the per-day data file. Each reading carries its
last known value plus the running extrema for today and yesterday.

# Ownership

Every sampling engine owns its sensor list exclusively. The only other party
touching it is the nightly maintenance task, which receives the list wrapped in
a SensorSet and takes its lock before rolling extrema over. The engine holds
the same lock for the duration of a sampling cycle.

# Identifiers

Sensor identifiers are 16 hex digits (family, serial, CRC). CanonicalID strips
separators and upper-cases, so identifiers from the bus, the configuration
file and persisted headers all compare equal.

# Reading state

	Valid    the reading holds a real observation (read or restored from file)
	Current  the reading was refreshed during the running cycle; only current
	         readings are persisted, stale ones become the missing-value marker
*/
package types
