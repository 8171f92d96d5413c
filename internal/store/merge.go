package store

import "github.com/tenderwatch/tendersync/internal/record"

// MergePolicy decides whether candidate should replace existing when both
// carry the same identity key. What counts as "more complete" is
// domain-specific, so the policy is pluggable rather than baked in.
type MergePolicy func(existing, candidate record.Record) bool

// DefaultMergePolicy replaces when the candidate's status differs from the
// stored one, or when the candidate carries detail-scrape markers (CPV codes,
// suppliers) the stored record lacks.
func DefaultMergePolicy(existing, candidate record.Record) bool {
	if existing.Status != candidate.Status {
		return true
	}
	if len(candidate.CPVCodes) > 0 && len(existing.CPVCodes) == 0 {
		return true
	}
	if len(candidate.Suppliers) > 0 && len(existing.Suppliers) == 0 {
		return true
	}
	return false
}
