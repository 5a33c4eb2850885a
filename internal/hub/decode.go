package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

func decodeArray(raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode array: %w", err)
	}

	return items, nil
}

// numberAt returns items[i] as a number; missing, null and non-numeric
// entries report false.
func numberAt(items []json.RawMessage, i int) (float64, bool) {
	if i < 0 || i >= len(items) {
		return 0, false
	}

	return decodeNumber(items[i])
}

func intAt(items []json.RawMessage, i int) (int, bool) {
	v, ok := numberAt(items, i)
	if !ok {
		return 0, false
	}

	return int(math.Round(v)), true
}

func decodeNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	v, err := n.Float64()
	if err != nil {
		return 0, false
	}

	return v, true
}

// decodeCode accepts both 3 and "3".
func decodeCode(raw json.RawMessage) (int, error) {
	if v, ok := decodeNumber(raw); ok {
		return int(v), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("decode code %s: %w", string(raw), err)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("decode code %q: %w", s, err)
	}

	return n, nil
}

func decodeVector(raw json.RawMessage) ([3]int, bool) {
	items, err := decodeArray(raw)
	if err != nil || len(items) < 3 {
		return [3]int{}, false
	}
	var out [3]int
	for i := range out {
		v, ok := intAt(items, i)
		if !ok {
			return [3]int{}, false
		}
		out[i] = v
	}

	return out, true
}
