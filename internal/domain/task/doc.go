// Package task correlates asynchronous vendor callbacks with the workflow code waiting on them.
//
// A job is identified by (vendor, jobId). The workflow writes a PENDING placeholder, submits the
// job to the vendor and blocks on the ResultStore; the vendor's webhook lands on the Dispatcher,
// which normalizes it through a PayloadConverter and writes the canonical TaskResult into the same
// store. Callback receiver and waiter never talk directly, so they may run in different processes.
package task
