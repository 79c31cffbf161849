// Copyright (c) Phaseflow Authors.
// Licensed under the MIT License.

/*
Package phase defines the state-machine vocabulary for one workflow stage
and the ExecutionManager that wraps a phase's run.

A workflow advances through Phases strictly in sequence. Each Phase
receives a Context derived from the previous phase's output, validates
its input, may be skipped, and performs its single effectful operation
Execute. All lifecycle transitions go through the ExecutionManager, which
fires callbacks, polls cooperative cancellation, persists checkpoints,
and may suspend on the approval gate. A phase's Result is produced
exactly once, by Complete or Fail, and is immutable after creation.
*/
package phase
