// Package registry implements the per-tenant, authenticated schema
// registry client (C3): HTTPS GETs with HTTP Basic credentials, resolved
// per environment, with an in-memory cache keyed by (envId, schemaId).
//
// Grounded on riferrei/srclient's SchemaRegistryClient (endpoint path
// constants, mutex-guarded cache) and on the teacher's own
// schemaRegistryEncoder (internal/impl/confluent/processor_schema_registry_encode.go).
// This client builds its own http.Client (dial timeout plus an overall
// request timeout) and guards its single (envId, schemaId) cache with one
// sync.RWMutex; concurrent misses on the same key each issue their own
// lookup.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/streamwatch/schema-change-notifier/internal/config"
	"github.com/streamwatch/schema-change-notifier/internal/errs"
	"github.com/streamwatch/schema-change-notifier/internal/logging"
)

const (
	connectTimeout = 10 * time.Second
	readTimeout    = 30 * time.Second

	acceptHeader = "application/vnd.schemaregistry.v1+json"
)

// SchemaInfo is the result of a successful registry lookup, cached by
// (envId, schemaId).
type SchemaInfo struct {
	EnvID      string
	SchemaID   int32
	Subject    string
	Version    int32
	HasVersion bool
	Schema     string
	SchemaType string
	References json.RawMessage
}

type cacheKey struct {
	envID    string
	schemaID int32
}

// Client resolves schema content from the per-tenant registries named in
// the pipeline's EnvironmentConfig set.
type Client struct {
	environments map[string]config.EnvironmentConfig
	httpClient   *http.Client
	logger       logging.Logger

	cacheMu sync.RWMutex
	cache   map[cacheKey]*SchemaInfo
}

// New constructs a Client over the given environments.
func New(environments map[string]config.EnvironmentConfig, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		environments: environments,
		httpClient: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		logger: logger,
		cache:  make(map[cacheKey]*SchemaInfo),
	}
}

// HasEnvironment reports whether envID has a configured registry.
func (c *Client) HasEnvironment(envID string) bool {
	_, ok := c.environments[envID]
	return ok
}

// CacheSize returns the number of cached SchemaInfo entries.
func (c *Client) CacheSize() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}

// ClearCache empties the in-memory cache.
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[cacheKey]*SchemaInfo)
}

// Close clears the cache. The client holds no other resources of its own;
// the underlying *http.Transport is left to the idle-connection reaper.
func (c *Client) Close() error {
	c.ClearCache()
	return nil
}

// GetByID resolves a schema by numeric id within envID, per spec.md §4.3.
// It returns (nil, nil) for an unknown environment (logged) or a 404
// (not an error). Any other non-2xx status, or a network failure,
// returns an *errs.RegistryError.
func (c *Client) GetByID(ctx context.Context, envID string, schemaID int32) (*SchemaInfo, error) {
	key := cacheKey{envID: envID, schemaID: schemaID}
	c.cacheMu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	env, ok := c.environments[envID]
	if !ok {
		c.logger.Warnf("registry: unknown environment %q, skipping lookup", envID)
		return nil, nil
	}

	base, err := normalizeBaseURL(env.SchemaRegistryURL)
	if err != nil {
		return nil, &errs.RegistryError{EnvID: envID, SchemaID: schemaID, Cause: err}
	}

	body, status, err := c.doGet(ctx, base, fmt.Sprintf("/schemas/ids/%d", schemaID), env)
	if err != nil {
		return nil, &errs.RegistryError{EnvID: envID, SchemaID: schemaID, Cause: err}
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &errs.RegistryError{EnvID: envID, SchemaID: schemaID, StatusCode: status, Body: string(body)}
	}

	var resp struct {
		Schema     string          `json:"schema"`
		SchemaType string          `json:"schemaType"`
		References json.RawMessage `json:"references"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &errs.RegistryError{EnvID: envID, SchemaID: schemaID, Cause: fmt.Errorf("parse schema response: %w", err)}
	}

	info := &SchemaInfo{
		EnvID:      envID,
		SchemaID:   schemaID,
		Schema:     resp.Schema,
		SchemaType: resp.SchemaType,
		References: resp.References,
	}

	// Version lookup degrades gracefully: a failure here is logged, not
	// propagated, and leaves Subject/Version unset on the returned info.
	if subject, version, ok := c.resolveVersion(ctx, base, schemaID, env, envID); ok {
		info.Subject = subject
		info.Version = version
		info.HasVersion = true
	}

	c.cacheMu.Lock()
	c.cache[key] = info
	c.cacheMu.Unlock()

	return info, nil
}

func (c *Client) resolveVersion(ctx context.Context, base *url.URL, schemaID int32, env config.EnvironmentConfig, envID string) (subject string, version int32, ok bool) {
	body, status, err := c.doGet(ctx, base, fmt.Sprintf("/schemas/ids/%d/versions", schemaID), env)
	if err != nil {
		c.logger.Warnf("registry: version lookup failed for env=%s schemaId=%d: %v", envID, schemaID, err)
		return "", 0, false
	}
	if status != http.StatusOK {
		c.logger.Warnf("registry: version lookup returned status %d for env=%s schemaId=%d", status, envID, schemaID)
		return "", 0, false
	}

	var versions []struct {
		Subject string `json:"subject"`
		Version int32  `json:"version"`
	}
	if err := json.Unmarshal(body, &versions); err != nil || len(versions) == 0 {
		c.logger.Warnf("registry: failed to parse version list for env=%s schemaId=%d: %v", envID, schemaID, err)
		return "", 0, false
	}
	return versions[0].Subject, versions[0].Version, true
}

// GetBySubjectVersion resolves a schema by (subject, version) within
// envID, per spec.md §4.3.
func (c *Client) GetBySubjectVersion(ctx context.Context, envID, subject string, version int32) (*SchemaInfo, error) {
	env, ok := c.environments[envID]
	if !ok {
		c.logger.Warnf("registry: unknown environment %q, skipping lookup", envID)
		return nil, nil
	}

	base, err := normalizeBaseURL(env.SchemaRegistryURL)
	if err != nil {
		return nil, &errs.RegistryError{EnvID: envID, Cause: err}
	}

	body, status, err := c.doGet(ctx, base, fmt.Sprintf("/subjects/%s/versions/%d", url.PathEscape(subject), version), env)
	if err != nil {
		return nil, &errs.RegistryError{EnvID: envID, Cause: err}
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &errs.RegistryError{EnvID: envID, StatusCode: status, Body: string(body)}
	}

	var resp struct {
		ID         json.Number     `json:"id"`
		Subject    string          `json:"subject"`
		Version    int32           `json:"version"`
		Schema     string          `json:"schema"`
		SchemaType string          `json:"schemaType"`
		References json.RawMessage `json:"references"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &errs.RegistryError{EnvID: envID, Cause: fmt.Errorf("parse schema response: %w", err)}
	}

	info := &SchemaInfo{
		EnvID:      envID,
		Subject:    resp.Subject,
		Version:    resp.Version,
		HasVersion: true,
		Schema:     resp.Schema,
		SchemaType: resp.SchemaType,
		References: resp.References,
	}

	if idInt, err := strconv.ParseInt(resp.ID.String(), 10, 32); err == nil {
		info.SchemaID = int32(idInt)
		c.cacheMu.Lock()
		c.cache[cacheKey{envID: envID, schemaID: info.SchemaID}] = info
		c.cacheMu.Unlock()
	}

	return info, nil
}

func (c *Client) doGet(ctx context.Context, base *url.URL, p string, env config.EnvironmentConfig) (body []byte, status int, err error) {
	reqURL := *base
	reqURL.Path = strings.TrimRight(reqURL.Path, "/") + "/" + strings.TrimLeft(p, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.SetBasicAuth(env.APIKey, env.APISecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return b, resp.StatusCode, nil
}

// normalizeBaseURL trims a trailing slash from urlStr per spec.md §4.3.
func normalizeBaseURL(urlStr string) (*url.URL, error) {
	trimmed := strings.TrimRight(urlStr, "/")
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	return u, nil
}
