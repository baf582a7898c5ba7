package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/steps-tracker/constants"
)

// NormalizeExtractionJSON
// - Renames known synonyms (step_count -> steps, kcal -> calories)
// - Drops null/empty optionals
// - Coerces "12,345" style strings to numbers
// - Canonicalizes confidence (unknown -> low)
// - Removes unknown keys
func NormalizeExtractionJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 4)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}
	renamed("step_count", "steps")
	renamed("stepCount", "steps")
	renamed("kcal", "calories")
	renamed("distance_km", "distance")

	if v, ok := m["steps"]; ok {
		switch t := v.(type) {
		case float64:
			if t < 0 || t != math.Trunc(t) {
				delete(m, "steps")
				dropped = append(dropped, "steps(invalid)")
			}
		case string:
			n, err := strconv.Atoi(strings.NewReplacer(",", "", " ", "", ".", "").Replace(strings.TrimSpace(t)))
			if err != nil || n < 0 {
				delete(m, "steps")
				dropped = append(dropped, "steps(unparseable)")
			} else {
				m["steps"] = n
			}
		default:
			delete(m, "steps")
			dropped = append(dropped, "steps(type)")
		}
	}

	for _, k := range []string{"distance", "calories"} {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
		case string:
			f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
			if err != nil {
				delete(m, k)
				dropped = append(dropped, k+"(unparseable)")
			} else {
				m[k] = f
			}
		default:
			delete(m, k)
			dropped = append(dropped, k+"(type)")
		}
	}

	conf, _ := m["confidence"].(string)
	canon, known := constants.Canonicalize(conf)
	if !known {
		dropped = append(dropped, "confidence(unknown)")
	}
	m["confidence"] = string(canon)

	for _, k := range []string{"date", "notes"} {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s == "" {
				delete(m, k)
			} else {
				m[k] = s
			}
		case nil:
			delete(m, k)
		default:
			delete(m, k)
			dropped = append(dropped, k+"(type)")
		}
	}

	allowed := map[string]struct{}{
		"steps": {}, "date": {}, "distance": {}, "calories": {}, "confidence": {}, "notes": {},
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("client.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}
