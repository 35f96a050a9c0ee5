// Package auditevent implements the JSON codec for the managed-cloud
// audit-log event stream (C1). It tolerates unknown fields and unknown
// enum values, and narrows the schema-id field — which sometimes arrives
// as a JSON floating-point literal — to a signed 32-bit integer.
package auditevent

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// RequestSentinelType is the only event "type" value this pipeline ever
// treats as relevant (spec.md §3, §4.5 relevance check #1).
const RequestSentinelType = "io.confluent.sg.server/request"

// Event is an immutable record of one row from the audit stream. Unknown
// fields are ignored by encoding/json by default; every field we don't
// recognize is simply absent from this struct.
type Event struct {
	ID     string     `json:"id"`
	Type   string     `json:"type"`
	Source string     `json:"source"`
	Time   string     `json:"time"`
	Data   *EventData `json:"data"`
}

// EventData is the audit payload body.
type EventData struct {
	ServiceName  string          `json:"serviceName"`
	MethodName   string          `json:"methodName"`
	ResourceName string          `json:"resourceName"`
	Result       *Result         `json:"result"`
	Request      *RequestPayload `json:"request"`
}

// Result carries the outcome of the audited operation.
type Result struct {
	Status string      `json:"status"`
	Data   *ResultData `json:"data"`
}

// ResultData carries operation-specific result fields. SchemaID is read
// via a raw json.Number so that both integer and floating-point literals
// (e.g. "100001.0") can be narrowed the same way.
type ResultData struct {
	ID json.Number `json:"id"`
}

// RequestPayload carries the operation's input fields. Compatibility and
// Mode are free-form strings (not a closed enum) since the audit stream is
// tolerant of new registry-side compatibility/mode values.
type RequestPayload struct {
	Data          *RequestData `json:"data"`
	Subject       string       `json:"subject"`
	Version       string       `json:"version"`
	Compatibility string       `json:"compatibility"`
	Mode          string       `json:"mode"`
}

// RequestData carries the nested request.data object used by
// RegisterSchema events.
type RequestData struct {
	Subject    string          `json:"subject"`
	Schema     string          `json:"schema"`
	SchemaType string          `json:"schemaType"`
	References json.RawMessage `json:"references"`
}

// Parse decodes a single audit-event JSON record. It never fails on
// unknown fields; it only fails on structurally invalid JSON, which the
// caller (the consumer, per spec.md §4.4) logs and skips.
func Parse(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("parse audit event: %w", err)
	}
	return &e, nil
}

// SchemaID narrows ResultData.ID (arriving as an int or float JSON
// literal) to an int32 by truncation toward zero, per spec.md §4.1 ("B1").
// It reports ok=false and leaves value at 0 when the field is absent, or
// is present but NaN/Inf/unparseable.
func (rd *ResultData) SchemaID() (value int32, ok bool) {
	if rd == nil || rd.ID == "" {
		return 0, false
	}
	f, err := rd.ID.Float64()
	if err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int32(math.Trunc(f)), true
}

// IsSuccess reports whether the result status is SUCCESS, case-insensitive
// per spec.md §4.5 relevance check #5.
func (r *Result) IsSuccess() bool {
	if r == nil {
		return false
	}
	return strings.EqualFold(r.Status, "SUCCESS")
}
