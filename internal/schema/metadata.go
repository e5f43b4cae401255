package schema

const (
	MetaAgentID    = "agent_id"
	MetaContextID  = "context_id"
	MetaEventID    = "event_id"
	MetaTriggerID  = "trigger_id"
	MetaDecisionID = "decision_id"
	MetaPriority   = "priority"
	MetaConfidence = "confidence"
	MetaOutcome    = "outcome"
)

// GetMetaString extracts a string from a metadata map. Returns "" if missing/not string.
func GetMetaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	val, ok := meta[key]
	if !ok {
		return ""
	}
	str, ok := val.(string)
	if !ok {
		return ""
	}
	return str
}

// GetMetaFloat extracts a float64 from a metadata map. Returns 0 if missing/not numeric.
func GetMetaFloat(meta map[string]any, key string) float64 {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
