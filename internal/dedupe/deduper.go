package dedupe

import "context"

// Tx-hash dedup contract. Check and Mark are split on purpose: a hash is
// marked processed only after the detector classified it successfully, so a
// malformed event never poisons the set.
type Deduper interface {
	// Seen reports whether id was already marked processed.
	Seen(ctx context.Context, id string) (bool, error)
	// Mark records id as processed.
	Mark(ctx context.Context, id string) error
}
