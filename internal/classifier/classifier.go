// Package classifier implements the relevance check, tenant/subject
// extraction, and notification construction (C5). It borrows a reference
// to the registry client (C3) as a capability rather than holding a
// circular reference back to the runner, per spec.md §9 ("Cyclic source
// coupling").
package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/streamwatch/schema-change-notifier/internal/auditevent"
	"github.com/streamwatch/schema-change-notifier/internal/config"
	"github.com/streamwatch/schema-change-notifier/internal/dedup"
	"github.com/streamwatch/schema-change-notifier/internal/logging"
	"github.com/streamwatch/schema-change-notifier/internal/notification"
	"github.com/streamwatch/schema-change-notifier/internal/registry"
)

// environmentPattern extracts "environment=<envId>" from a CRN-style
// resource name, stopping at the next path segment (spec.md §4.5).
var environmentPattern = regexp.MustCompile(`environment=([^/]+)`)

const (
	methodRegisterSchema      = "schema-registry.RegisterSchema"
	methodDeleteSchema        = "schema-registry.DeleteSchema"
	methodDeleteSubject       = "schema-registry.DeleteSubject"
	methodUpdateCompatibility = "schema-registry.UpdateCompatibility"
	methodUpdateMode          = "schema-registry.UpdateMode"
)

// Registry is the subset of the C3 client the classifier depends on. It is
// an interface so tests can supply a fake without constructing a real
// HTTP client.
type Registry interface {
	GetByID(ctx context.Context, envID string, schemaID int32) (*registry.SchemaInfo, error)
}

// Classifier holds the filter configuration and its registry capability.
type Classifier struct {
	methodNames    map[string]struct{}
	environments   map[string]config.EnvironmentConfig
	onlySuccessful bool
	subjectGlobs   []*regexp.Regexp

	reg    Registry
	logger logging.Logger
}

// New constructs a Classifier from the parsed Filter/Environments config
// and a Registry capability.
func New(filter config.FilterConfig, environments map[string]config.EnvironmentConfig, reg Registry, logger logging.Logger) (*Classifier, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	methodNames := make(map[string]struct{}, len(filter.MethodNames))
	for _, m := range filter.MethodNames {
		methodNames[m] = struct{}{}
	}

	globs := make([]*regexp.Regexp, 0, len(filter.Subjects))
	for _, pattern := range filter.Subjects {
		re, err := globToRegexp(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile subject filter %q: %w", pattern, err)
		}
		globs = append(globs, re)
	}

	return &Classifier{
		methodNames:    methodNames,
		environments:   environments,
		onlySuccessful: filter.OnlySuccessful,
		subjectGlobs:   globs,
		reg:            reg,
		logger:         logger,
	}, nil
}

// globToRegexp compiles a glob supporting only "*" (matched against the
// entire string, with "." escaped first) into a regexp, per spec.md §4.5.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	return regexp.Compile("^" + escaped + "$")
}

// extractEnvironmentID applies the environment= regex first against
// resourceName, then against source, per spec.md §4.5.
func extractEnvironmentID(resourceName, source string) (string, bool) {
	if m := environmentPattern.FindStringSubmatch(resourceName); m != nil {
		return m[1], true
	}
	if m := environmentPattern.FindStringSubmatch(source); m != nil {
		return m[1], true
	}
	return "", false
}

// extractSubject implements the classifier's subject-extraction priority
// from spec.md §4.5: request.data.subject, then request.subject, then
// resourceName.
func extractSubject(e *auditevent.Event) string {
	data := e.Data
	if data == nil {
		return ""
	}
	if data.Request != nil {
		if data.Request.Data != nil && data.Request.Data.Subject != "" {
			return data.Request.Data.Subject
		}
		if data.Request.Subject != "" {
			return data.Request.Subject
		}
	}
	return data.ResourceName
}

// isRelevant runs the six ordered, short-circuiting relevance checks from
// spec.md §4.5. It returns the extracted environment id alongside the
// verdict since dispatch needs it too.
func (c *Classifier) isRelevant(e *auditevent.Event) (envID string, ok bool) {
	if e.Type != auditevent.RequestSentinelType {
		return "", false
	}
	if e.Data == nil {
		return "", false
	}
	if _, known := c.methodNames[e.Data.MethodName]; !known {
		return "", false
	}

	envID, found := extractEnvironmentID(e.Data.ResourceName, e.Source)
	if !found {
		return "", false
	}
	if _, ok := c.environments[envID]; !ok {
		return "", false
	}

	if c.onlySuccessful && !e.Data.Result.IsSuccess() {
		return "", false
	}

	if len(c.subjectGlobs) > 0 {
		subject := extractSubject(e)
		matched := false
		for _, re := range c.subjectGlobs {
			if re.MatchString(subject) {
				matched = true
				break
			}
		}
		if !matched {
			return "", false
		}
	}

	return envID, true
}

// DedupKey computes the event's deduplication key per spec.md §4.5,
// independent of whether the event is ultimately relevant: the subject
// used here is request.data.subject, then resourceName — deliberately not
// the envelope subject produced for delete variants (spec.md §9).
func (c *Classifier) DedupKey(e *auditevent.Event) string {
	var subjectPtr *string
	if e.Data != nil {
		var subject string
		if e.Data.Request != nil && e.Data.Request.Data != nil && e.Data.Request.Data.Subject != "" {
			subject = e.Data.Request.Data.Subject
		} else {
			subject = e.Data.ResourceName
		}
		if subject != "" {
			subjectPtr = &subject
		}
	}

	var method string
	if e.Data != nil {
		method = e.Data.MethodName
	}

	var schemaID *int32
	if e.Data != nil && e.Data.Result != nil {
		if id, ok := e.Data.Result.Data.SchemaID(); ok {
			schemaID = &id
		}
	}

	return dedup.Key(subjectPtr, method, schemaID)
}

// Process runs the full relevance check and, on a match, builds the
// Notification for the event. It returns nil when the event is filtered
// (not an error), and logs and returns nil on any internal failure,
// including a registry lookup error, per spec.md §4.5 ("On any internal exception, log and return
// no notification").
func (c *Classifier) Process(ctx context.Context, e *auditevent.Event) *notification.Notification {
	envID, ok := c.isRelevant(e)
	if !ok {
		return nil
	}

	n, err := c.build(ctx, e, envID)
	if err != nil {
		c.logger.Errorf("classifier: failed to build notification for event %s: %v", e.ID, err)
		return nil
	}
	return n
}

func (c *Classifier) build(ctx context.Context, e *auditevent.Event, envID string) (*notification.Notification, error) {
	data := e.Data

	n := &notification.Notification{
		Timestamp:     e.Time,
		EnvironmentID: strPtr(envID),
	}
	if e.ID != "" {
		n.AuditLogEventID = strPtr(e.ID)
	}

	switch data.MethodName {
	case methodRegisterSchema:
		if err := c.buildSchemaRegistered(ctx, n, e, envID); err != nil {
			return nil, err
		}
	case methodDeleteSchema:
		n.EventType = notification.SchemaDeleted
		n.Subject = strPtr(data.ResourceName)
		if data.Request != nil && data.Request.Version != "" {
			n.Version = strPtr(data.Request.Version)
		}
		n.SchemaDeletedBody = &notification.SchemaDeletedBody{Permanent: false}
	case methodDeleteSubject:
		n.EventType = notification.SubjectDeleted
		n.Subject = strPtr(data.ResourceName)
		n.SubjectDeletedBody = &notification.SubjectDeletedBody{Permanent: false}
	case methodUpdateCompatibility:
		n.EventType = notification.CompatibilityUpdated
		compat := ""
		if data.Request != nil {
			compat = data.Request.Compatibility
		}
		n.CompatibilityUpdatedBody = &notification.CompatibilityUpdatedBody{NewCompatibility: compat}
	case methodUpdateMode:
		n.EventType = notification.ModeUpdated
		mode := ""
		if data.Request != nil {
			mode = data.Request.Mode
		}
		n.ModeUpdatedBody = &notification.ModeUpdatedBody{NewMode: mode}
	default:
		return nil, fmt.Errorf("unsupported method %q", data.MethodName)
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func (c *Classifier) buildSchemaRegistered(ctx context.Context, n *notification.Notification, e *auditevent.Event, envID string) error {
	n.EventType = notification.SchemaRegistered
	data := e.Data

	var schemaID *int32
	if data.Result != nil {
		if id, ok := data.Result.Data.SchemaID(); ok {
			schemaID = &id
			n.SchemaID = &id
		}
	}

	if data.Request != nil && data.Request.Data != nil {
		if data.Request.Data.Subject != "" {
			n.Subject = strPtr(data.Request.Data.Subject)
		}
	}

	schemaType := notification.Avro
	if data.Request != nil && data.Request.Data != nil && data.Request.Data.SchemaType != "" {
		schemaType = notification.SchemaType(data.Request.Data.SchemaType)
	}

	var schemaBody string
	var references []byte

	if schemaID != nil && c.reg != nil {
		info, err := c.reg.GetByID(ctx, envID, *schemaID)
		if err != nil {
			return fmt.Errorf("registry lookup failed for env=%s schemaId=%d: %w", envID, *schemaID, err)
		}
		if info != nil {
			schemaBody = info.Schema
			references = info.References
			if info.SchemaType != "" {
				schemaType = notification.SchemaType(info.SchemaType)
			}
			if info.HasVersion {
				v := fmt.Sprintf("%d", info.Version)
				n.Version = &v
			}
			if info.Subject != "" {
				n.Subject = strPtr(info.Subject)
			}
		}
	}

	n.SchemaType = schemaType
	n.SchemaRegisteredBody = &notification.SchemaRegisteredBody{
		Schema:     schemaBody,
		References: references,
	}
	return nil
}

func strPtr(s string) *string { return &s }
