// Package trace provides the observability feed for a supervision run.
//
// Every consequential step the orchestration loop takes — status polls,
// compression passes, feedback sends, merges, errors — is recorded as an
// [Event] on a bounded [Buffer]. The buffer retains only the most recent
// events (oldest evicted) and fans each addition out two ways:
//
//   - an optional observer hook, invoked synchronously on the producer's
//     control flow
//   - any number of subscriber feeds, each a buffered channel with a
//     non-blocking enqueue (a slow subscriber loses its own oldest events,
//     never stalls the producer)
//
// # Event Kind Naming Convention
//
// Event kinds follow the pattern "category.action" or a bare category:
//   - cycle.start, cycle.error, cycle.stop
//   - agent.status, agent.feedback, agent.merge, agent.turn
//   - compress.start, compress.chunk, compress.pass, compress.done
//   - context.comm, context.goals, context.rolling, context.system
//
// # Thread Safety
//
// [Buffer] is safe for concurrent use, but the intended shape is a single
// publisher (the loop) and many concurrent subscribers. The observer hook
// runs synchronously under the producer's call: a slow hook stalls the
// orchestration loop. This is a documented constraint, not a bug — keep
// hooks cheap and push slow consumers onto subscriber feeds.
package trace
