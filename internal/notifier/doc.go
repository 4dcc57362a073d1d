// Package notifier delivers operator alerts.
//
// Alerts are short, high-signal messages about jobs that need a human: a
// processing fault, a failed job, or a job stuck in generating/publishing.
// The service turns event bus traffic into alerts and delivers them through
// a Sender with a worker pool, a rate limit, retry with backoff and a dedup
// window so that a job reported stuck on every sweep alerts only once per
// window.
package notifier
