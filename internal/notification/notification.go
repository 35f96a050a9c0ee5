// Package notification models the downstream notification record as a
// sum type with exactly one populated variant body, per spec.md §3 and
// §9 ("Tagged variants in place of polymorphism"). Serialization omits
// whichever variant bodies are not populated and never emits API secrets.
package notification

import (
	"encoding/json"
	"strconv"
)

// EventType is the notification's tag. It selects which variant body is
// populated.
type EventType string

const (
	SchemaRegistered     EventType = "SCHEMA_REGISTERED"
	SchemaDeleted        EventType = "SCHEMA_DELETED"
	SubjectDeleted       EventType = "SUBJECT_DELETED"
	CompatibilityUpdated EventType = "COMPATIBILITY_UPDATED"
	ModeUpdated          EventType = "MODE_UPDATED"
)

// SchemaType mirrors the registry's schema type enum, defaulting to AVRO
// per spec.md §3.
type SchemaType string

const (
	Avro     SchemaType = "AVRO"
	JSON     SchemaType = "JSON"
	Protobuf SchemaType = "PROTOBUF"
)

// Notification is the envelope plus exactly one populated variant body.
// Only one of SchemaRegisteredBody, SchemaDeletedBody, SubjectDeletedBody,
// CompatibilityUpdatedBody, ModeUpdatedBody is non-nil for any given
// instance; Validate enforces this.
type Notification struct {
	EventType       EventType  `json:"eventType"`
	SchemaID        *int32     `json:"schemaId,omitempty"`
	Subject         *string    `json:"subject,omitempty"`
	Version         *string    `json:"version,omitempty"`
	SchemaType      SchemaType `json:"schemaType,omitempty"`
	Timestamp       string     `json:"timestamp"`
	AuditLogEventID *string    `json:"auditLogEventId,omitempty"`
	EnvironmentID   *string    `json:"environmentId,omitempty"`

	SchemaRegisteredBody     *SchemaRegisteredBody     `json:"dataContractRegistered,omitempty"`
	SchemaDeletedBody        *SchemaDeletedBody        `json:"schemaDeleted,omitempty"`
	SubjectDeletedBody       *SubjectDeletedBody       `json:"subjectDeleted,omitempty"`
	CompatibilityUpdatedBody *CompatibilityUpdatedBody `json:"compatibilityUpdated,omitempty"`
	ModeUpdatedBody          *ModeUpdatedBody          `json:"modeUpdated,omitempty"`
}

// SchemaRegisteredBody is the SCHEMA_REGISTERED variant body.
type SchemaRegisteredBody struct {
	Schema     string          `json:"schema"`
	References json.RawMessage `json:"references,omitempty"`
}

// SchemaDeletedBody is the SCHEMA_DELETED variant body.
type SchemaDeletedBody struct {
	Permanent bool `json:"permanent"`
}

// SubjectDeletedBody is the SUBJECT_DELETED variant body.
type SubjectDeletedBody struct {
	Permanent       bool   `json:"permanent"`
	VersionsDeleted *int32 `json:"versionsDeleted,omitempty"`
}

// CompatibilityUpdatedBody is the COMPATIBILITY_UPDATED variant body.
type CompatibilityUpdatedBody struct {
	NewCompatibility string `json:"newCompatibility"`
}

// ModeUpdatedBody is the MODE_UPDATED variant body.
type ModeUpdatedBody struct {
	NewMode string `json:"newMode"`
}

// Validate enforces that exactly one variant body is populated, per
// spec.md §3's Notification invariant.
func (n *Notification) Validate() error {
	count := 0
	if n.SchemaRegisteredBody != nil {
		count++
	}
	if n.SchemaDeletedBody != nil {
		count++
	}
	if n.SubjectDeletedBody != nil {
		count++
	}
	if n.CompatibilityUpdatedBody != nil {
		count++
	}
	if n.ModeUpdatedBody != nil {
		count++
	}
	if count != 1 {
		return &ErrVariantCount{Count: count}
	}
	return nil
}

// ErrVariantCount reports that a Notification had the wrong number of
// populated variant bodies.
type ErrVariantCount struct {
	Count int
}

func (e *ErrVariantCount) Error() string {
	return "notification must have exactly one populated variant body, got " + strconv.Itoa(e.Count)
}

// MarshalKey returns the record key this notification should be published
// with on the target topic: the notification's Subject, or the literal
// "unknown" when absent (spec.md §4.6, I6).
func (n *Notification) MarshalKey() string {
	if n.Subject == nil || *n.Subject == "" {
		return "unknown"
	}
	return *n.Subject
}
