package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/schema-change-notifier/internal/config"
	"github.com/streamwatch/schema-change-notifier/internal/errs"
	"github.com/streamwatch/schema-change-notifier/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(map[string]config.EnvironmentConfig{
		"env-1": {EnvID: "env-1", SchemaRegistryURL: srv.URL, APIKey: "key", APISecret: "secret"},
	}, logging.NewNop())
	return c, srv
}

func TestGetByID_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)

		switch r.URL.Path {
		case "/schemas/ids/100001":
			w.Write([]byte(`{"schema": "{\"type\":\"record\"}", "schemaType": "AVRO"}`))
		case "/schemas/ids/100001/versions":
			w.Write([]byte(`[{"subject": "orders-value", "version": 3}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	info, err := c.GetByID(context.Background(), "env-1", 100001)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "orders-value", info.Subject)
	assert.Equal(t, int32(3), info.Version)
	assert.True(t, info.HasVersion)
	assert.Equal(t, "AVRO", info.SchemaType)

	assert.Equal(t, 1, c.CacheSize())
	info2, err := c.GetByID(context.Background(), "env-1", 100001)
	require.NoError(t, err)
	assert.Same(t, info, info2)
}

func TestGetByID_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	info, err := c.GetByID(context.Background(), "env-1", 999)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestGetByID_UnknownEnvironment(t *testing.T) {
	c := New(map[string]config.EnvironmentConfig{}, logging.NewNop())
	info, err := c.GetByID(context.Background(), "ghost", 1)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestGetByID_ServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := c.GetByID(context.Background(), "env-1", 1)
	require.Error(t, err)
	var regErr *errs.RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusInternalServerError, regErr.StatusCode)
}
