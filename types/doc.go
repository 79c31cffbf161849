// Copyright (c) Phaseflow Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type vocabulary for the phaseflow
orchestration core.

types is the lowest-level public package and depends on no other package
in the module. It defines the structured error system used across the
orchestrator (graph validation, resource admission, phase lifecycle,
callback dispatch, approval gating) and the context propagation helpers
for workflow, run, and phase identifiers.

Error handling follows one rule: every boundary between orchestrator
logic and collaborator logic converts collaborator failures into a typed
*Error with a stable ErrorCode, so callers branch on codes instead of
string matching.
*/
package types
