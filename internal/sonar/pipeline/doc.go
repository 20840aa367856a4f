// Package pipeline provides the per-channel composition root that turns a
// serial byte stream into OutputRecords.
//
// A Channel owns one instance of every stage (l1frames decoder, l2echo
// extractor, l3track smoother and consistency tracker) so that several
// sensors can run side by side without shared state. None of the layer
// packages import pipeline/.
//
// Everything behind the Sink boundary (fan-out, persistence, network push)
// lives in adapter packages and must never block Ingest.
package pipeline
