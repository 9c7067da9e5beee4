// Package runloop provides a single-goroutine task loop with cancellable timers.
//
// Invariants:
// - Posted tasks never run inline with the caller of Post.
// - Tasks run one at a time, in post order.
// - A stopped Timer never runs its callback, even if its deadline already elapsed
//   and the callback is waiting in the loop.
//
// Usage:
//
//	loop := runloop.New()
//	loop.Start()
//	defer loop.Stop()
//	_ = loop.Post(func() { fmt.Println("deferred") })
package runloop
