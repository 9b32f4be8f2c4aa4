// Package batch submits a list of URLs to the download daemon as one batch
// and tracks it to completion.
//
// A Batch installs itself as the connection's only inbound handler. It
// classifies every frame in a fixed priority order:
//
//  1. aria2.onDownloadComplete: the job leaves the queue, the completed count
//     grows and a throughput sample is requested.
//  2. getSpeed responses: the throughput sample is reported without touching
//     the completed count.
//  3. aria2.onDownloadError: the job leaves the queue without counting as
//     completed; a URI lookup is issued when retries remain.
//  4. getUrlForRetry responses: the recovered URL is resubmitted.
//  5. addUrl responses: accepted gids join the queue; the first bulk
//     acceptance starts the progress aggregator.
//
// The batch resolves exactly once, when the queue is empty and no retry is
// in flight.
package batch
