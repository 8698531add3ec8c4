// Package mongodb owns the lifecycle of the document store connection.
//
// Manager is a small state machine (disconnected, connecting, connected,
// reconnect scheduled) whose transitions all happen inside a single mutex
// region, while IsConnected and State stay lock-free for hot-path callers.
// Failed connects grow a consecutive-attempt counter and schedule a retry
// after min(cap, attempts*step) seconds on the dispatcher's worker context,
// with at most one timer armed at a time. Once the attempt budget is spent,
// automatic reconnection stops; an explicit EnsureConnected still gets one
// more try and a success resets the counter.
//
// The Client and Collection interfaces wrap the driver behind the narrow
// operation set the repository layer needs, so tests can substitute mocks
// instead of a live store.
//
// Connection strings may embed credentials. They are masked before appearing
// in any log field or error message.
package mongodb
