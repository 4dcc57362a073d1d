// Package pipeline is the scheduler loop. On every tick it asks the store
// for due jobs, claims each one with a compare-and-set, generates missing
// content, publishes to every platform concurrently and records the
// aggregated outcome.
//
//	pending -> generating -> publishing -> completed | failed
//
// A claimed job is never cancelled from outside. If the process dies
// mid-job the job stays in generating/publishing and shows up in the stuck
// report; it is never retried automatically.
package pipeline
