/*
Package callback dispatches workflow lifecycle events to registered
observer sets with failure isolation.

Every named hook is invoked through a guarded wrapper backed by a
consecutive-failure circuit breaker: once a hook of a set has failed the
configured number of times in a row it is sidelined for the rest of the
run. A success resets the counter. Observability must never halt or crash
the core, so handler errors and panics are counted and logged, never
propagated.

The should-continue predicate is special-cased to fail open: once its
circuit opens the dispatcher reports "continue", so a broken observer can
never deadlock the workflow by appearing to request a pause. Across
merged sets should-continue combines by logical AND.
*/
package callback
