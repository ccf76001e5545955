// Package msgreducer implements the streaming message-history reducer (C7):
// a sliding window over an ordered message log with importance-biased
// retention, so the history stays within a bounded count and byte budget
// while preserving relative order.
package msgreducer

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/solstice-labs/agentmem/config"
	"github.com/solstice-labs/agentmem/metrics"
	"github.com/solstice-labs/agentmem/types"
)

// importanceThreshold is the dividing line between "important" (kept
// preferentially) and "regular" messages, per spec §4.6.
const importanceThreshold = 7

// Reduce merges update into prev (by id when ids coincide) and, if the
// result exceeds cfg's bounds, prunes to MaxMessages / MaxTotalBytes using
// importance-biased retention. Reduce(S, nil) = S (idempotent on an empty
// update).
func Reduce(prev, update []types.Message, cfg *config.ASMSConfig) []types.Message {
	merged := mergeByID(prev, update)

	if len(merged) <= cfg.MessagesMaxCount && totalBytes(merged) <= cfg.MessagesMaxTotalBytes {
		return merged
	}
	pruned := prune(merged, cfg)
	metrics.ObserveReducerDropped(len(merged) - len(pruned))
	return pruned
}

// mergeByID appends update to prev, replacing any prev entry whose ID
// matches an update entry's ID (newer fields win) rather than duplicating
// it, and assigning a fresh ID to new messages that arrive without one.
func mergeByID(prev, update []types.Message) []types.Message {
	if len(update) == 0 {
		out := make([]types.Message, len(prev))
		copy(out, prev)
		return out
	}

	indexByID := make(map[string]int, len(prev))
	out := make([]types.Message, len(prev))
	copy(out, prev)
	for i, m := range out {
		if m.ID != "" {
			indexByID[m.ID] = i
		}
	}

	for _, m := range update {
		if m.ID != "" {
			if idx, ok := indexByID[m.ID]; ok {
				out[idx] = m
				continue
			}
		} else {
			m.ID = uuid.NewString()
		}
		indexByID[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

func totalBytes(msgs []types.Message) int64 {
	var total int64
	for i := range msgs {
		total += int64(msgs[i].ByteSize())
	}
	return total
}

// importance scores a message per spec §4.6's rubric.
func importance(m types.Message) int {
	base := 5
	lower := strings.ToLower(m.Text())

	switch m.Kind {
	case types.KindHuman:
		base = 9
	case types.KindTool:
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
			base = 8
		} else {
			base = 6
		}
	case types.KindAssistant:
		if m.HasToolCalls() {
			base = 7
		}
	}

	if strings.Contains(lower, "task completed") || strings.Contains(lower, "plan:") || strings.Contains(lower, "summary:") {
		base += 2
	}
	if base > 10 {
		base = 10
	}
	return base
}

// prune keeps the important tier's top ⌊0.70·MaxMessages⌋ messages (by
// importance, not raw recency) and the regular tier's last
// MaxMessages−that quota, merged back into original relative order, then
// trims further from the oldest-kept regular message if the byte budget
// is still exceeded. Biasing the larger share toward the important tier
// (spec §8 scenario 2: a human message and a tool-call-bearing assistant
// message both survive a 3-message cap over several plain tool/chat
// messages) is what makes this "importance-biased" retention rather than
// a plain sliding window.
func prune(msgs []types.Message, cfg *config.ASMSConfig) []types.Message {
	var importantIdx, regularIdx []int
	for i, m := range msgs {
		if importance(m) >= importanceThreshold {
			importantIdx = append(importantIdx, i)
		} else {
			regularIdx = append(regularIdx, i)
		}
	}

	importantQuota := int(float64(cfg.MessagesMaxCount) * 0.70)
	regularQuota := cfg.MessagesMaxCount - importantQuota

	keepImportant := selectByPriority(importantIdx, msgs, importantQuota)
	keepRegular := lastN(regularIdx, regularQuota)

	kept := make(map[int]bool, len(keepRegular)+len(keepImportant))
	for _, i := range keepRegular {
		kept[i] = true
	}
	for _, i := range keepImportant {
		kept[i] = true
	}

	indices := make([]int, 0, len(kept))
	for i := range kept {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	result := make([]types.Message, 0, len(indices))
	for _, i := range indices {
		result = append(result, msgs[i])
	}

	// Secondary byte-budget pass: spec requires ∑size(output) ≤
	// MaxTotalBytes after every reduce; drop oldest regular-importance
	// survivors first since important ones were deliberately prioritized.
	for totalBytes(result) > cfg.MessagesMaxTotalBytes && len(result) > 0 {
		dropAt := -1
		for i, m := range result {
			if importance(m) < importanceThreshold {
				dropAt = i
				break
			}
		}
		if dropAt < 0 {
			dropAt = 0
		}
		result = append(result[:dropAt], result[dropAt+1:]...)
	}

	return result
}

func lastN(indices []int, n int) []int {
	if n <= 0 {
		return nil
	}
	if n >= len(indices) {
		return indices
	}
	return indices[len(indices)-n:]
}

// selectByPriority returns up to n of indices, preferring the highest
// importance() score first and, among ties, the most recent position —
// not simply the most recent n positions. This is what lets a lower-
// importance-but-older message (e.g. the conversation-opening human
// message) outrank a higher-position-but-lower-importance one within a
// tight quota.
func selectByPriority(indices []int, msgs []types.Message, n int) []int {
	if n <= 0 {
		return nil
	}
	if n >= len(indices) {
		return indices
	}
	ranked := make([]int, len(indices))
	copy(ranked, indices)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := importance(msgs[ranked[i]]), importance(msgs[ranked[j]])
		if si != sj {
			return si > sj
		}
		return ranked[i] > ranked[j]
	})
	return ranked[:n]
}
