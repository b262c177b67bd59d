package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const timeLayout = time.RFC3339Nano

// marshalJSON encodes v as compact JSON TEXT with HTML escaping disabled,
// so labels and titles are stored the way clients sent them.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline
	return strings.TrimSpace(buf.String()), nil
}

func marshalLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	s, err := marshalJSON(labels)
	if err != nil {
		return "", fmt.Errorf("marshal labels: %w", err)
	}
	return s, nil
}

// unmarshalLabels returns nil for an empty array so round-tripped tickets
// compare equal to ones built without labels.
func unmarshalLabels(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var labels []string
	if err := json.Unmarshal([]byte(data), &labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	return labels, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
