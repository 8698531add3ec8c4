// Package dispatch schedules work on two execution contexts.
//
// The worker context runs any number of tasks in parallel and is used for
// everything that may block: store I/O, cache-miss loads, archival. The
// authoritative context is a single goroutine consuming tasks in strict
// submission order; state that the host must observe consistently is mutated
// there, the same way a game server funnels mutations through its tick
// thread.
//
// Results cross contexts through Future values. SupplyAuthoritative detects
// when the caller is already on the authoritative loop and runs the function
// inline, so authoritative code can compose futures without deadlocking the
// loop it runs on.
//
// Failure containment: a panic inside any dispatched task is recovered,
// logged, and resolves the task's future exceptionally. No task ever takes
// the process down. Cancellation is best-effort and non-preemptive; an
// invocation already executing finishes, only not-yet-started work and
// future repeats are suppressed.
package dispatch
