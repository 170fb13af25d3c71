// Package orchestrator drives review runs for change sets.
//
// # Overview
//
// A run takes one change-set revision through the gates of a tier:
//
//	Router picks runnable gates → Dispatcher invokes workers → Ledger records
//	results → Emitter posts checks → Router retries, escalates or blocks
//
// and ends with a promote or block decision in the ledger once no gate can
// make progress.
//
// # Concurrency
//
// Runnable gates of one run are driven concurrently, bounded by
// Config.MaxParallel. Each gate is driven by one goroutine that loops over
// its retries and its escalation. Change sets run independently. A second
// run for the same change set and revision is rejected with
// ErrRunInProgress; a run for a newer revision cancels the older run and
// waits for it to drain before the ledger starts the new revision.
//
// # Errors
//
// Platform failures (check runs, status comment, labels) never abort a
// run. They are wrapped in ReviewError and collected in Receipt.Errors.
// ErrStaleWrite from the ledger is handled by refreshing the ledger and
// reissuing the write.
//
// # Usage
//
//	orch, err := orchestrator.New(registry, store, dispatcher,
//	    orchestrator.WithEmitter(emitter),
//	    orchestrator.WithReporter(github),
//	)
//	receipt, err := orch.Run(ctx, orchestrator.RunRequest{
//	    Key:      ledger.Key{Repository: "acme/api", ChangeSet: "42"},
//	    Revision: headSHA,
//	})
package orchestrator
