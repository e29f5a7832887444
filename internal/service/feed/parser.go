package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"LiveTicks/internal/domain/models"
)

// fieldRule locates a value inside a decoded JSON object. An empty parent
// means the top level.
type fieldRule struct {
	parent string
	key    string
}

// Rules are evaluated in order; the first present, non-empty field wins.
var (
	valueRules = []fieldRule{
		{key: "p"},
		{key: "price"},
		{key: "value"},
		{parent: "data", key: "p"},
		{parent: "data", key: "price"},
		{parent: "data", key: "value"},
	}
	timestampRules = []fieldRule{
		{key: "T"},
		{key: "E"},
		{parent: "data", key: "T"},
	}
)

// Parse converts one inbound frame into a DataPoint. Structured JSON objects
// are matched against the prioritized field rules; anything that is not a JSON
// object is retried as a bare number. now supplies the fallback timestamp.
func Parse(raw []byte, now func() time.Time) (models.DataPoint, error) {
	if now == nil {
		now = time.Now
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		v, perr := parseNumber(strings.TrimSpace(string(raw)))
		if perr != nil {
			return models.DataPoint{}, fmt.Errorf("%w: %q is neither a JSON object nor a number", models.ErrInvalidValue, truncate(raw))
		}
		return models.DataPoint{Timestamp: now().UnixMilli(), Value: v}, nil
	}

	var nested map[string]json.RawMessage
	if d, ok := obj["data"]; ok {
		_ = json.Unmarshal(d, &nested)
	}
	lookup := func(r fieldRule) (json.RawMessage, bool) {
		src := obj
		if r.parent != "" {
			src = nested
		}
		v, ok := src[r.key]
		if !ok || isEmpty(v) {
			return nil, false
		}
		return v, true
	}

	var (
		value float64
		found bool
	)
	for _, r := range valueRules {
		rv, ok := lookup(r)
		if !ok {
			continue
		}
		v, err := parseScalar(rv)
		if err != nil {
			return models.DataPoint{}, fmt.Errorf("%w: field %s: %v", models.ErrInvalidValue, r, err)
		}
		value, found = v, true
		break
	}
	if !found {
		return models.DataPoint{}, fmt.Errorf("%w: no price field", models.ErrInvalidValue)
	}

	ts := int64(0)
	for _, r := range timestampRules {
		rv, ok := lookup(r)
		if !ok {
			continue
		}
		if v, err := parseScalar(rv); err == nil {
			ts = int64(v)
		}
		break
	}
	if ts <= 0 {
		ts = now().UnixMilli()
	}

	return models.DataPoint{Timestamp: ts, Value: value}, nil
}

func (r fieldRule) String() string {
	if r.parent == "" {
		return r.key
	}
	return r.parent + "." + r.key
}

// isEmpty treats null, "", false and any numeric zero (0, -0, 0.0, 0e0) as
// absent. A string holding zero is present.
func isEmpty(v json.RawMessage) bool {
	switch strings.TrimSpace(string(v)) {
	case "", "null", `""`, "false":
		return true
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f == 0
	}
	return false
}

// parseScalar accepts a JSON number or a JSON string holding a number.
func parseScalar(v json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return parseNumber(strings.TrimSpace(s))
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, fmt.Errorf("not a number: %s", truncate(v))
	}
	return finite(f)
}

func parseNumber(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return finite(f)
}

func finite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}

func truncate(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
