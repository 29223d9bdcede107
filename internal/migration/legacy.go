package migration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Legacy table names, in the order their fixers run.
const (
	LegacyListings        = "listings"
	LegacyCollectionBox   = "collection_box"
	LegacyCollectionBoxV2 = "collection_boxV2"
	LegacyExpiredItems    = "expired_items"
	LegacyExpiredItemsV2  = "expired_itemsV2"
)

// LegacyRow is one row of a legacy table keyed by lower-case column name.
// Drivers disagree on the Go types they return, so the getters convert leniently.
type LegacyRow map[string]any

func (r LegacyRow) value(col string) (any, bool) {
	v, ok := r[strings.ToLower(col)]
	return v, ok && v != nil
}

// Has reports whether col is present and not NULL.
func (r LegacyRow) Has(col string) bool {
	_, ok := r.value(col)
	return ok
}

// String returns col as text.
func (r LegacyRow) String(col string) (string, error) {
	v, ok := r.value(col)
	if !ok {
		return "", fmt.Errorf("column %s is missing", col)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	return fmt.Sprint(v), nil
}

// Int64 returns col as an integer.
func (r LegacyRow) Int64(col string) (int64, error) {
	v, ok := r.value(col)
	if !ok {
		return 0, fmt.Errorf("column %s is missing", col)
	}
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	}
	s, _ := r.String(col)
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return n, nil
}

// Bool returns col as a flag; numeric columns are true when non-zero.
func (r LegacyRow) Bool(col string) (bool, error) {
	v, ok := r.value(col)
	if !ok {
		return false, fmt.Errorf("column %s is missing", col)
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	}
	s, _ := r.String(col)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n != 0, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("column %s: %w", col, err)
	}
	return b, nil
}

// UUID returns col parsed as a UUID.
func (r LegacyRow) UUID(col string) (uuid.UUID, error) {
	s, err := r.String(col)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("column %s: %w", col, err)
	}
	return id, nil
}

// Decimal returns col as a decimal.
func (r LegacyRow) Decimal(col string) (decimal.Decimal, error) {
	v, ok := r.value(col)
	if !ok {
		return decimal.Zero, fmt.Errorf("column %s is missing", col)
	}
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	}
	s, _ := r.String(col)
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %s: %w", col, err)
	}
	return d, nil
}

// ItemEncoder turns a legacy item value into the current opaque payload.
type ItemEncoder func(raw json.RawMessage) (string, error)

// DefaultItemEncoder keeps string payloads as they are and stores structured
// payloads as compact JSON.
func DefaultItemEncoder(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("item payload is empty")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}
