// Package seqqueue provides a sequential executor: queued work items run one at a time,
// in push order, each bounded by a watchdog deadline.
//
// Invariants:
// - At most one item is active (dispatched and not yet advanced past) at any instant.
// - The generation counter (CurrentID) grows by one per dispatched item and decides
//   whether a completion or timeout signal is stale.
// - Every advance runs on the executor's run-loop, never inline with the signal that
//   triggered it.
// - No item is accepted once the executor is closed or drained.
//
// Usage:
//
//	q := seqqueue.New(seqqueue.WithDefaultTimeout(2 * time.Second))
//	q.On(seqqueue.EventTimeout, func(ev seqqueue.Event) {
//		log.Warn().Uint64("item", ev.Item.ID()).Msg("write timed out")
//	})
//	q.Push(func(c *seqqueue.Completion) error {
//		go func() {
//			writeRecord()
//			c.Done()
//		}()
//		return nil
//	})
//	q.Close(false)
//	<-q.Finished()
package seqqueue
