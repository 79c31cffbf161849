// Copyright (c) Phaseflow Authors.
// Licensed under the MIT License.

/*
Package workflow drives a run through its ordered phases and owns the
durable run state.

The Runner advances phases strictly sequentially: phase N+1 never starts
before phase N reaches a terminal state. Between phases the context is
handed off through CopyForNextPhase, and the master WorkflowContext is
serialized so a crashed run can be reloaded and resumed. Checkpoint
blobs written by phases go through a CheckpointStore; memory, file, and
Redis backends are provided.
*/
package workflow
