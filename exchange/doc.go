// Package exchange provides the ID-keyed table of in-flight exchanges.
//
// A Table maps (direction, id) to a Record. Inbound IDs are supplied by the
// host; outbound IDs come from Table.NextID. Every record is removed
// exactly once, at which point a payload implementing Dropper is released.
//
// Observers see every insert, state transition and removal:
//
//	unsubscribe := table.Subscribe(exchange.ObserverFunc(func(e exchange.Event) {
//	    log.Printf("%s %s %s", e.Type, e.Key, e.State)
//	}))
//	defer unsubscribe()
package exchange
