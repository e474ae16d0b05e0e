// Package events defines the structured event model shared by the digest
// pipeline: the tagged event variant extracted from team messages, urgency
// and blocker-status scales, and the per-team analysis envelope returned by
// the extraction collaborator.
package events
