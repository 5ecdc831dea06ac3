package affinity

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/satriahrh/arunika/companion/domain/entities"
)

// SignalKind tells what an inbound object carried.
type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalValue
	SignalMilestone
	SignalExpression
)

// Signal is the affinity-relevant content of one inbound object.
type Signal struct {
	Kind       SignalKind
	Affinity   entities.Affinity
	Milestone  entities.AffinityMilestone
	Expression entities.EmotionExpression
}

var (
	valueTags = tagSet("HeartAffinity", "heartaffinity", "heart-affinity", "heart_affinity",
		"affinity-update", "affinity_update", "affinity-data", "affinity_data", "affinity")
	valueActionTags = tagSet("affinity-update", "affinity_update", "affinity-data", "affinity_data", "affinity")
	valueEventTags  = tagSet("affinity-update", "affinity_update", "affinity")
	responseTags    = tagSet("get-affinity", "get_affinity")
	milestoneTags   = tagSet("affinity-milestone", "affinity_milestone")
	expressionTags  = tagSet("emotion-expression", "emotion_expression", "expression")

	valueKeys = []string{"HeartAffinity", "heartAffinity", "heart_affinity", "affinity",
		"value", "score", "level_value", "affinity_value"}
	levelKeys        = []string{"level", "level_name", "affinity_level", "affinityLevel"}
	genericValueKeys = []string{"HeartAffinity", "heartAffinity", "heart_affinity", "affinity"}
	genericLevelKeys = []string{"level", "affinityLevel", "affinity_level"}
)

// Extract classifies raw on its own terms, independent of the generic
// normalizer. Explicit tags win over field sniffing.
func Extract(raw map[string]any) (Signal, bool) {
	if raw == nil {
		return Signal{}, false
	}
	typ, action, event := str(raw["type"]), str(raw["action"]), str(raw["event"])

	switch {
	case valueTags[typ] || valueActionTags[action] || valueEventTags[event] || responseTags[str(raw["response_to"])]:
		return valueSignal(raw, valueKeys, levelKeys)

	case milestoneTags[typ] || milestoneTags[event]:
		text := firstStr(raw, "milestone", "text", "message")
		if text == "" {
			return Signal{}, false
		}
		return Signal{Kind: SignalMilestone, Milestone: entities.AffinityMilestone{
			Text:  text,
			Level: firstStr(raw, "level", "affinity_level"),
		}}, true

	case expressionTags[typ] || expressionTags[event]:
		name := firstStr(raw, "expression", "emotion", "name")
		if name == "" {
			return Signal{}, false
		}
		intensity := 0.5
		for _, key := range []string{"intensity", "value", "strength"} {
			if v, ok := number(raw[key]); ok && v != 0 {
				intensity = v
				break
			}
		}
		return Signal{Kind: SignalExpression, Expression: entities.EmotionExpression{Expression: name, Intensity: intensity}}, true

	case hasAny(raw, "affinity", "level", "HeartAffinity", "heartAffinity", "heart_affinity"):
		return valueSignal(raw, genericValueKeys, genericLevelKeys)
	}

	if nested, ok := raw["data"].(map[string]any); ok {
		if hasAny(nested, genericValueKeys...) {
			return valueSignal(nested, genericValueKeys, genericLevelKeys)
		}
		return Signal{}, false
	}

	return searchKeys(raw)
}

// searchKeys is the last resort: any key mentioning affinity.
func searchKeys(raw map[string]any) (Signal, bool) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var valueKey, levelKey string
	for _, k := range keys {
		lk := strings.ToLower(k)
		if !strings.Contains(lk, "affinity") {
			continue
		}
		if strings.Contains(lk, "level") {
			if levelKey == "" {
				levelKey = k
			}
		} else if valueKey == "" {
			valueKey = k
		}
	}
	if valueKey == "" {
		return Signal{}, false
	}
	if levelKey == "" {
		levelKey = "level"
	}
	return valueSignal(raw, []string{valueKey}, []string{levelKey, "level"})
}

func valueSignal(raw map[string]any, vKeys, lKeys []string) (Signal, bool) {
	sig := Signal{Kind: SignalValue}
	sig.Affinity.Level = firstStr(raw, lKeys...)
	sig.Affinity.UserID = str(raw["user_id"])

	for _, key := range vKeys {
		v, present := raw[key]
		if !present || v == nil {
			continue
		}
		n, ok := number(v)
		if !ok {
			// present but not numeric: the message is unusable
			return Signal{}, false
		}
		sig.Affinity.Value = &n
		break
	}
	if sig.Affinity.Value == nil {
		return Signal{}, false
	}
	return sig, true
}

func number(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func firstStr(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func hasAny(raw map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := raw[k]; ok {
			return true
		}
	}
	return false
}

func tagSet(tags ...string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}
