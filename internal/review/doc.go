// Package review holds the reviewer-side model of a handoff: transcript
// segments, the intake form with per-field provenance, evidence linking,
// the next-field scheduler, follow-up questions and the approval gate.
package review
