// Package report turns the findings of one scan into the Report callers
// receive.
//
// Aggregation has three steps, all deterministic:
//
//   - deduplicate findings sharing (type, evidence), keeping the most
//     severe instance
//   - sort by severity (high first), then check ID, then type, with
//     evidence, description and URL as final tie-breakers
//   - count findings per severity into the Summary
//
// A Report is built once by Build and never modified afterwards. Its JSON
// encoding, apart from scan_id and created_at, depends only on the
// findings and diagnostics, so repeated scans of an unchanged target
// produce identical bytes.
package report
