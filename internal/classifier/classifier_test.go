package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/schema-change-notifier/internal/auditevent"
	"github.com/streamwatch/schema-change-notifier/internal/config"
	"github.com/streamwatch/schema-change-notifier/internal/logging"
	"github.com/streamwatch/schema-change-notifier/internal/notification"
	"github.com/streamwatch/schema-change-notifier/internal/registry"
)

type fakeRegistry struct {
	info *registry.SchemaInfo
	err  error
}

func (f *fakeRegistry) GetByID(ctx context.Context, envID string, schemaID int32) (*registry.SchemaInfo, error) {
	return f.info, f.err
}

func baseFilter() config.FilterConfig {
	return config.FilterConfig{
		MethodNames: []string{
			"schema-registry.RegisterSchema",
			"schema-registry.DeleteSchema",
			"schema-registry.DeleteSubject",
		},
		OnlySuccessful: true,
	}
}

func baseEnvironments() map[string]config.EnvironmentConfig {
	return map[string]config.EnvironmentConfig{
		"env-1": {EnvID: "env-1"},
	}
}

func registerEvent(success bool) *auditevent.Event {
	status := "SUCCESS"
	if !success {
		status = "FAILURE"
	}
	return &auditevent.Event{
		ID:     "evt-1",
		Type:   auditevent.RequestSentinelType,
		Source: "crn://confluent.cloud/environment=env-1/schema-registry=lsrc-1",
		Time:   "2026-01-01T00:00:00Z",
		Data: &auditevent.EventData{
			MethodName:   "schema-registry.RegisterSchema",
			ResourceName: "crn://confluent.cloud/environment=env-1/subject=orders-value",
			Result: &auditevent.Result{
				Status: status,
				Data:   &auditevent.ResultData{ID: "100001"},
			},
			Request: &auditevent.RequestPayload{
				Data: &auditevent.RequestData{Subject: "orders-value", SchemaType: "AVRO"},
			},
		},
	}
}

func TestProcess_RegisterSchema_WithEnrichment(t *testing.T) {
	c, err := New(baseFilter(), baseEnvironments(), &fakeRegistry{
		info: &registry.SchemaInfo{Schema: "{\"type\":\"record\"}", SchemaType: "AVRO", Subject: "orders-value", Version: 3, HasVersion: true},
	}, logging.NewNop())
	require.NoError(t, err)

	n := c.Process(context.Background(), registerEvent(true))
	require.NotNil(t, n)
	assert.Equal(t, notification.SchemaRegistered, n.EventType)
	require.NotNil(t, n.SchemaID)
	assert.Equal(t, int32(100001), *n.SchemaID)
	require.NotNil(t, n.Subject)
	assert.Equal(t, "orders-value", *n.Subject)
	require.NotNil(t, n.Version)
	assert.Equal(t, "3", *n.Version)
	require.NotNil(t, n.SchemaRegisteredBody)
	assert.Contains(t, n.SchemaRegisteredBody.Schema, "record")
}

func TestProcess_FilteredByUnknownMethod(t *testing.T) {
	c, err := New(baseFilter(), baseEnvironments(), &fakeRegistry{}, logging.NewNop())
	require.NoError(t, err)

	ev := registerEvent(true)
	ev.Data.MethodName = "schema-registry.SomethingElse"
	assert.Nil(t, c.Process(context.Background(), ev))
}

func TestProcess_FilteredByUnsuccessfulResult(t *testing.T) {
	c, err := New(baseFilter(), baseEnvironments(), &fakeRegistry{}, logging.NewNop())
	require.NoError(t, err)
	assert.Nil(t, c.Process(context.Background(), registerEvent(false)))
}

func TestProcess_FilteredByUnknownEnvironment(t *testing.T) {
	c, err := New(baseFilter(), baseEnvironments(), &fakeRegistry{}, logging.NewNop())
	require.NoError(t, err)

	ev := registerEvent(true)
	ev.Source = "crn://confluent.cloud/environment=env-999/schema-registry=lsrc-1"
	ev.Data.ResourceName = "crn://confluent.cloud/environment=env-999/subject=orders-value"
	assert.Nil(t, c.Process(context.Background(), ev))
}

func TestProcess_SubjectGlobFilter(t *testing.T) {
	filter := baseFilter()
	filter.Subjects = []string{"payments-*"}
	c, err := New(filter, baseEnvironments(), &fakeRegistry{}, logging.NewNop())
	require.NoError(t, err)

	assert.Nil(t, c.Process(context.Background(), registerEvent(true)))

	ev := registerEvent(true)
	ev.Data.Request.Data.Subject = "payments-value"
	n := c.Process(context.Background(), ev)
	require.NotNil(t, n)
}

func TestProcess_NotSentinelType(t *testing.T) {
	c, err := New(baseFilter(), baseEnvironments(), &fakeRegistry{}, logging.NewNop())
	require.NoError(t, err)

	ev := registerEvent(true)
	ev.Type = "io.confluent.sg.server/response"
	assert.Nil(t, c.Process(context.Background(), ev))
}

func TestProcess_DeleteSchema(t *testing.T) {
	c, err := New(baseFilter(), baseEnvironments(), &fakeRegistry{}, logging.NewNop())
	require.NoError(t, err)

	ev := registerEvent(true)
	ev.Data.MethodName = "schema-registry.DeleteSchema"
	ev.Data.Result = &auditevent.Result{Status: "SUCCESS"}

	n := c.Process(context.Background(), ev)
	require.NotNil(t, n)
	assert.Equal(t, notification.SchemaDeleted, n.EventType)
	require.NotNil(t, n.SchemaDeletedBody)
}

func TestDedupKey_Stable(t *testing.T) {
	c, err := New(baseFilter(), baseEnvironments(), &fakeRegistry{}, logging.NewNop())
	require.NoError(t, err)

	ev := registerEvent(true)
	k1 := c.DedupKey(ev)
	k2 := c.DedupKey(ev)
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "orders-value")
}

func TestGlobToRegexp(t *testing.T) {
	re, err := globToRegexp("orders-*")
	require.NoError(t, err)
	assert.True(t, re.MatchString("orders-value"))
	assert.False(t, re.MatchString("other-value"))

	re2, err := globToRegexp("exact.subject")
	require.NoError(t, err)
	assert.True(t, re2.MatchString("exact.subject"))
	assert.False(t, re2.MatchString("exactXsubject"))
}
