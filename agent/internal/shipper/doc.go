// Package shipper delivers records to the alerter over Kafka.
//
// Ship is non-blocking: records go into an in-memory channel sized by
// kafka.buffer_size, and when it is full the oldest record is evicted so the
// newest observations survive a broker outage. Run batches the channel by
// batch_size / flush_interval and writes each batch with a hash balancer
// keyed by entity_id, keeping one entity's records ordered on one partition.
//
// A failed batch is retried with truncated exponential back-off (1s to 60s,
// ±25% jitter) and blocks later batches until it succeeds. Non-retriable
// Kafka errors discard the batch.
package shipper
