// Package log records machine-readable transcripts of everything the test
// framework sends to a router.
//
// Every SSH command, REST request and MQTT probe produces an Event. Events
// are separate from operational logging (slog): the transcript is a complete
// record that can be replayed, filtered and exported after a run.
//
// # Basic Usage
//
//	// Console only
//	transcript := log.NewSlogAdapter(slog.Default())
//
//	// File and console
//	fl, _ := log.NewFileLogger("results/run.rtlog")
//	transcript := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # File Format
//
// Transcript files are a stream of CBOR-encoded events with integer keys.
// The routertest-log tool views, filters, exports and summarizes them.
package log
