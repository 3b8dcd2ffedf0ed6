// Package dag implements the execution graph: DIANodes with an
// Execute/PushData/Dispose lifecycle, and a stage builder that walks an
// Action node's parents to assemble a run of stages in dependency order.
//
// The user-facing operator library (map, filter, join, sort, ...) lives
// outside the engine; this package only owns the graph structure, the
// lifecycle state machine, and the scheduling decisions that any concrete
// operator plugs into via the Behavior interface. A node's fused
// Map/Filter/FlatMap function stack is modeled as a slice of type-erased
// StackFn values, since the operator library that would give them concrete
// element types is a different component.
package dag
