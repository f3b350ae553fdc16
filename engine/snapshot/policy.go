// Package snapshot implements the pure decision function that decides
// whether an item upsert should emit a time-series observation, and why.
package snapshot

import "github.com/philippdubach/hn-archiver-go/engine/domain"

// ScoreSpikeThreshold is the minimum score delta that counts as a spike.
const ScoreSpikeThreshold = 20

// SampleEvery emits a sample snapshot every Nth observation.
const SampleEvery = 4

// Decision is the result of evaluating the policy for one item.
type Decision struct {
	Emit   bool
	Reason domain.SnapshotReason
}

// Decide is a pure function: given the prior and new item state, the
// observation count, and whether content changed, decide whether to emit
// a snapshot and what reason to label it with.
//
// Rules are evaluated in order; the first matching rule wins:
//  1. old == nil && new.is_front_page -> emit, reason = new_item.
//  2. !changed -> do not emit.
//  3. old != nil && new.score - old.score >= ScoreSpikeThreshold -> emit, reason = score_spike.
//  4. update_count > 0 && update_count % SampleEvery == 0 -> emit, reason = sample.
//  5. new.is_front_page -> emit, reason = front_page.
//  6. otherwise -> do not emit.
func Decide(old *domain.Item, new domain.EnrichedItem, updateCount int64, changed bool) Decision {
	if old == nil && new.IsFrontPage {
		return Decision{Emit: true, Reason: domain.ReasonNewItem}
	}

	if !changed {
		return Decision{}
	}

	if old != nil && scoreDelta(old.Score, new.Score) >= ScoreSpikeThreshold {
		return Decision{Emit: true, Reason: domain.ReasonScoreSpike}
	}

	if updateCount > 0 && updateCount%SampleEvery == 0 {
		return Decision{Emit: true, Reason: domain.ReasonSample}
	}

	if new.IsFrontPage {
		return Decision{Emit: true, Reason: domain.ReasonFrontPage}
	}

	return Decision{}
}

// scoreDelta computes new-old treating a missing score as zero, matching
// the upstream's convention that an absent score behaves like 0 for the
// purpose of spike detection.
func scoreDelta(old, new *int) int {
	var o, n int
	if old != nil {
		o = *old
	}
	if new != nil {
		n = *new
	}
	return n - o
}

// FilterBackfill keeps only score_spike snapshots from a list the policy
// produced. The backfill pipeline's stale-refresh phase applies this after
// the policy has already run: older items should not produce sample or
// front_page snapshots, but the policy itself is identity-agnostic, so the
// filter is applied by the caller instead of threaded through Decide.
func FilterBackfill(snaps []domain.Snapshot) []domain.Snapshot {
	out := make([]domain.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.Reason == domain.ReasonScoreSpike {
			out = append(out, s)
		}
	}
	return out
}
