// Package queue implements the background job queue on top of the jobs
// table: an Enqueuer that inserts pending rows, a polling Worker that claims
// one row at a time and dispatches it through a Registry of type handlers, a
// Monitor that recovers jobs stuck in processing, a one-shot Cleaner that
// enforces retention, and a Scheduler that enqueues recurring job types on a
// cron schedule.
//
// The components never talk to each other. Every coordination point is a
// conditional UPDATE in the store, so any number of worker, monitor and
// scheduler processes may run against the same database.
package queue
