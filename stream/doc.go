// Package stream provides a small typed multicast primitive used to deliver
// socket frames and interface-change notifications to any number of
// subscribers.
//
// A Subject delivers each value synchronously, in the publisher's goroutine,
// to the observers registered at the time of the call. Data values are never
// buffered or replayed: an observer only sees what is published while it is
// subscribed. Terminal notifications (Error and Complete) are sticky, so an
// observer that subscribes after termination is told immediately.
//
// Pipe derives a transformed stream whose transform only runs while the
// derived stream has at least one subscriber. Consumer counts propagate
// upstream, which lets a producer check Consumers before doing expensive work.
package stream
