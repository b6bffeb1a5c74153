package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flagCmd(t *testing.T, apiKey, apiURL string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("api-key", "", "")
	cmd.Flags().String("api-url", "", "")
	if apiKey != "" {
		require.NoError(t, cmd.Flags().Set("api-key", apiKey))
	}
	if apiURL != "" {
		require.NoError(t, cmd.Flags().Set("api-url", apiURL))
	}
	return cmd
}

func TestNewAPIClientWithCmd_Cascade(t *testing.T) {
	path := useConfigDir(t, t.TempDir())
	writeGlobalConfig(t, path, GlobalConfig{APIKey: otherAPIKey, APIURL: "http://global:8080"})

	t.Run("flag overrides env and config", func(t *testing.T) {
		t.Setenv(envAPIKey, "akb_env")
		t.Setenv(envAPIURL, "http://env:8080")

		c, err := NewAPIClientWithCmd(flagCmd(t, testAPIKey, "http://flag:8080/"))
		require.NoError(t, err)
		assert.Equal(t, testAPIKey, c.apiKey)
		assert.Equal(t, "http://flag:8080", c.BaseURL())
	})

	t.Run("fields resolve independently", func(t *testing.T) {
		t.Setenv(envAPIKey, "")
		t.Setenv(envAPIURL, "http://env:8080")

		c, err := NewAPIClientWithCmd(nil)
		require.NoError(t, err)
		assert.Equal(t, otherAPIKey, c.apiKey)
		assert.Equal(t, "http://env:8080", c.BaseURL())
	})
}

func TestNewAPIClientWithCmd_DefaultURLAndMissingKey(t *testing.T) {
	useConfigDir(t, t.TempDir())
	t.Setenv(envAPIURL, "")

	t.Setenv(envAPIKey, testAPIKey)
	c, err := NewAPIClientWithCmd(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, c.BaseURL())

	t.Setenv(envAPIKey, "")
	_, err = NewAPIClientWithCmd(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), envAPIKey)
}

func TestAPIClient_Envelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
			return
		}
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			_, _ = w.Write([]byte(`{"data":{"flushed":3}}`))
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/plain":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewAPIClientWithConfig(testAPIKey, srv.URL)

	resp, err := c.Post(ctx, "/ok", map[string]string{"x": "y"})
	require.NoError(t, err)
	var flushed flushResponse
	require.NoError(t, resp.Decode(&flushed))
	assert.Equal(t, 3, flushed.Flushed)

	resp, err = c.Delete(ctx, "/empty")
	require.NoError(t, err)
	assert.Error(t, resp.Decode(&flushed))

	_, err = c.Get(ctx, "/plain")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Message)

	_, err = c.Get(ctx, "/missing")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = NewAPIClientWithConfig("akb_wrong", srv.URL).Get(ctx, "/ok")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid api key", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "401")
}
