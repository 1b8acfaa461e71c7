// Package leads implements lead capture, editing and movement through the
// pipeline.
//
// Every read goes through the caller's lead scope; leads outside it are
// reported as repo.ErrNotFound so their existence does not leak.
//
// Stage moves:
//   - entering a lost stage requires a lost reason
//   - entering a won or lost stage sets closed_at, leaving one clears it
//   - every move appends a stage_change activity
//
// Each mutation appends exactly one audit event in the same transaction.
package leads
