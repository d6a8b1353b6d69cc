// Package receiver accepts monitoring records and hands them to the engine.
//
// KafkaConsumer reads records from a topic in small batches, submits each to
// the dispatcher and commits the batch only once every record in it has been
// evaluated, so a crash before evaluation redelivers the records.
// IngestHandler accepts the same JSON records over HTTP.
//
// Validate performs the structural checks shared by both paths; deeper checks
// (missing meta_data, missing current values) belong to the engine.
package receiver
