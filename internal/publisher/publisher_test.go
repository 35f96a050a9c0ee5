package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/schema-change-notifier/internal/config"
	"github.com/streamwatch/schema-change-notifier/internal/logging"
	"github.com/streamwatch/schema-change-notifier/internal/notification"
)

func TestValidateAvroSchema(t *testing.T) {
	assert.NoError(t, validateAvroSchema(notificationAvroSchema))
	assert.Error(t, validateAvroSchema(`{not valid avro}`))
}

func TestRegisterSchema_Success(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subjects/notifications-value/versions", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "regkey", user)
		assert.Equal(t, "regsecret", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &Publisher{
		topic:     "notifications",
		logger:    logging.NewNop(),
		httpCl:    srv.Client(),
		regURL:    srv.URL,
		regKey:    "regkey",
		regSecret: "regsecret",
	}

	err := p.registerSchema(context.Background())
	require.NoError(t, err)
	assert.Contains(t, gotBody["schema"], "SchemaChangeNotification")
}

func TestRegisterSchema_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := &Publisher{
		topic:  "notifications",
		logger: logging.NewNop(),
		httpCl: srv.Client(),
		regURL: srv.URL,
	}
	assert.Error(t, p.registerSchema(context.Background()))
}

func TestNew_DryRunSkipsRegistrationAndBroker(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New(context.Background(), config.TargetConfig{Topic: "notifications"}, config.TargetSchemaRegistryConfig{URL: srv.URL}, true, logging.NewNop())
	require.NoError(t, err)
	assert.False(t, called)

	n := &notification.Notification{
		EventType:            notification.SchemaRegistered,
		Timestamp:            "2026-01-01T00:00:00Z",
		SchemaRegisteredBody: &notification.SchemaRegisteredBody{Schema: "{}"},
	}
	require.NoError(t, p.Publish(context.Background(), n))
	require.NoError(t, p.Close())
}

func TestSubjectName(t *testing.T) {
	assert.Equal(t, "notifications-value", subjectName("notifications"))
}
