// Package storage persists scheduled jobs, automation rules and linked
// accounts.
//
// Two drivers are provided:
//   - "sqlite": durable SQLite database (modernc, pure Go)
//   - "memory": process-local maps, used by tests and dry runs
//
// Every status change goes through a compare-and-set on the current status,
// so two schedulers sharing one database never both claim the same job.
package storage
