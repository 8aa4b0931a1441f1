/*
Package events provides an in-memory event broker for collector lifecycle
events.

Engines and the maintenance task publish; the supervisor subscribes to
failures and rollovers and mirrors them into the log.

	engine.state    an engine entered a new lifecycle state
	engine.failed   an engine stopped with a fatal error
	cycle.failed    one sampling cycle failed
	rollover.done   daily extrema were rolled over for a controller

Publish hands the event to a buffered channel (100 events) drained by one
broadcast goroutine. Each subscriber has its own buffer of 50; when it is
full the event is dropped for that subscriber, counted in Dropped and in
owlog_events_dropped_total. Events without an ID get a random UUID.

A Filter narrows a subscription to some controllers or event types; empty
lists match everything.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.Filter{
		Controllers: []string{"garden"},
		Types:       []events.EventType{events.EventCycleFailed},
	})
	for ev := range sub {
		fmt.Println(ev.Type, ev.Controller, ev.Message)
	}
*/
package events
