package realtime

import "expvar"

var (
	connectsTotal       = expvar.NewInt("realtime_connects_total")
	disconnectsTotal    = expvar.NewInt("realtime_disconnects_total")
	eventsReceivedTotal = expvar.NewInt("realtime_events_received_total")
	eventsDroppedTotal  = expvar.NewInt("realtime_events_dropped_total")
)
