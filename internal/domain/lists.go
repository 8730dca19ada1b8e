package domain

import "encoding/json"

// EncodeList serializes a string slice for storage in a text column.
// Nil and empty slices encode to "" so unset metadata stays readable
// in raw SQL queries.
func EncodeList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	b, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeList parses a text column written by EncodeList. Malformed or
// empty input yields an empty slice, never an error; flag handling must
// not fail on a bad historical row.
func DecodeList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return []string{}
	}
	return items
}

// ListContains reports whether an encoded list column contains item.
func ListContains(raw, item string) bool {
	for _, it := range DecodeList(raw) {
		if it == item {
			return true
		}
	}
	return false
}
