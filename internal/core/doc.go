// Package core runs conference program uploads for the HTTP server and the
// progctl CLI.
//
// The parsing and reconciliation engine lives in package ingest; core wraps
// it with the operational concerns every entry point shares:
//
//   - Concurrency: [UploadLimiter] caps parallel uploads and serializes
//     uploads of the same conference within the process.
//   - Timeouts: each upload runs under [Options.UploadTimeout].
//   - History: every attempt, including dry runs and failures, is stored in
//     the upload log with its summary counts and the requesting client.
//   - Metrics: upload counts by outcome, durations and record counts are
//     exported through Prometheus when a registerer is configured.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]. Each
// category has a code users can quote to support:
//
//   - FMT001, PRS001-PRS002, CNS001: problems with the uploaded file
//   - ROOM001, REC001: references to records the conference does not have
//   - DB001-DB007: database errors
//   - UPL001-UPL005: upload limits, cancellation and timeouts
package core
