package reading

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// PrimaryField is the canonical JSON field carrying the measurement
const PrimaryField = "dba"

// payload is the structured wire format:
//
//	{"dba": 72.3, "status": "ok", "battery": 85}
//
// Only "dba" is required. Optional fields of an unexpected type are ignored.
type payload struct {
	DBA     *float64        `json:"dba"`
	Status  json.RawMessage `json:"status"`
	Battery json.RawMessage `json:"battery"`
}

// Decode converts a raw notification into a Reading. It never fails:
//  1. UTF-8 JSON object with a numeric "dba" field -> value, status (default ok), battery
//  2. plain finite decimal text -> value, status ok
//  3. anything else -> value 0, status error
//
// RawPayload always keeps the input text (hex for invalid UTF-8).
func Decode(data []byte, at time.Time) Reading {
	if at.IsZero() {
		at = time.Now()
	}

	if !utf8.Valid(data) {
		return Reading{Timestamp: at, Status: StatusError, RawPayload: "hex:" + hex.EncodeToString(data)}
	}

	text := string(data)
	r := Reading{Timestamp: at, RawPayload: text}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if decodeStructured(trimmed, &r) {
			return r
		}
	}

	if v, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil && isFinite(v) {
		r.Value = v
		r.Status = StatusOK
		return r
	}

	r.Value = 0
	r.Status = StatusError
	r.Battery = nil
	return r
}

func decodeStructured(data []byte, r *Reading) bool {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return false
	}
	if p.DBA == nil || !isFinite(*p.DBA) {
		return false
	}

	r.Value = *p.DBA
	r.Status = StatusOK
	var status *string
	if json.Unmarshal(p.Status, &status) == nil && status != nil && !strings.EqualFold(strings.TrimSpace(*status), string(StatusOK)) {
		r.Status = StatusError
	}
	var battery *float64
	if json.Unmarshal(p.Battery, &battery) == nil && battery != nil && isFinite(*battery) {
		b := int(math.Round(*battery))
		b = max(0, min(100, b))
		r.Battery = &b
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
