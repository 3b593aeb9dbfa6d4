// Package forward prepares one article for one target.
//
// A Context flows through an explicit, ordered list of middlewares. A stage
// either lets the context continue or stops it with an abort reason; an error
// from a stage is a hard failure, never an abort. Stages, in order:
//
//	time filter -> keyword filter -> block rule -> text replace -> chunking
//
// Each stage is enabled by the target's pipeline configuration; invalid
// patterns or durations are rejected when the pipeline is built.
package forward
