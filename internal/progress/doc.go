// Package progress renders batch-level download progress. The batch
// dispatcher drives an Aggregator with Start once the accepted job count is
// known and Update on every completion or throughput sample.
package progress
