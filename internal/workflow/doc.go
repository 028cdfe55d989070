// Package workflow coordinates the three-stage acquisition pipeline.
//
// The Manager runs a worker pool per stage (discovery, metadata, download),
// claims queue entries through the store's optimistic dequeue, executes the
// registered stage handler, and advances or fails the entry according to the
// outcome. Download workers honor the operator pause flag by deferring their
// entries without consuming retry attempts.
package workflow
