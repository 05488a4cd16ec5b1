// Package security derives a read-only posture report from the engine
// configuration, with warnings for settings unfit for production.
//
// # What this package must NOT do
//
//   - Include key material or secrets in a report.
package security
