package schema

// Priority is a normalized engagement score in [0, 1]. It is computed by
// the ingestion collaborator (mentions, recency, relevance) and consumed
// as-is by the scheduling core.
type Priority float64

// UrgentThreshold is the score above which engagement is unconditional,
// regardless of persona mood.
const UrgentThreshold Priority = 0.8

// ClampPriority forces a raw score into [0, 1].
func ClampPriority(v float64) Priority {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return Priority(v)
}

// Urgent returns true if this priority must never be neglected.
func (p Priority) Urgent() bool {
	return p > UrgentThreshold
}

// Band returns a coarse label for logging and journal metadata.
func (p Priority) Band() string {
	switch {
	case p > 0.8:
		return "urgent"
	case p > 0.5:
		return "high"
	case p > 0.2:
		return "normal"
	default:
		return "low"
	}
}
