// Package task drives analysis tasks through the pipeline one bounded unit
// of work at a time. A Dispatcher picks the most urgent eligible task, takes
// its lock through the LockManager, runs exactly one unit chosen by NextUnit
// and releases the lock. All progress lives in the task store, so any
// process can continue a task that another process started.
package task
