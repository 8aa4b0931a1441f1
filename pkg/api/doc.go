/*
Package api serves the collector's read-only HTTP endpoints.

	GET /health         overall health from the component registry
	GET /ready          200 once storage and every controller are sampling
	GET /live           liveness
	GET /metrics        Prometheus exposition
	GET /status         persisted status of every controller
	GET /status/{name}  status of one controller

Requests with any other method are rejected by the ReadOnly middleware.
Server.Run shuts the listener down gracefully when its context is cancelled.
*/
package api
