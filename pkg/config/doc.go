/*
Package config loads the collector's YAML configuration.

	log:
	  level: info            # debug, info, warn, error
	  json: false
	data_dir: /var/lib/owlog
	http_addr: ":9304"
	shutdown_timeout: 10s
	controllers:
	  - name: garden
	    host: 192.0.2.10
	    port: 4304
	    period: 1m
	    max_fails: 10         # consecutive failed cycles before the engine stops
	    connect_attempts: 5
	    connect_delay: 10s
	    altitude: 520         # metres; enables sea-level pressure correction
	    file_prefix: garden   # relative to data_dir; data goes to garden-YYYYMMDD.dat
	    render: true
	    devices:
	      - id: 28.AABBCCDDEEFF12
	        location: north wall
	      - id: 26AABBCCDDEEFF34
	        readings:
	          - {name: B1-R1-A/pressure, type: pressure, unit: hPa, format: "%.1f"}

Durations use Go syntax. Unset fields get the defaults in this package;
Validate rejects the rest with an error wrapping ErrInvalid that names the
offending field.
*/
package config
