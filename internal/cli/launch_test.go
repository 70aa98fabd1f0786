package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPortal(t *testing.T, status int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/notebooks/7/launch/", func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, `{"detail":"nope"}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"url": srv.URL + "/dash/7/"})
	})
	mux.HandleFunc("/dash/7/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLaunchCommandPrintsURL(t *testing.T) {
	srv := newPortal(t, http.StatusOK)

	buf := &bytes.Buffer{}
	cmd := NewLaunchCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"7", "--portal", srv.URL + "/api"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, srv.URL+"/dash/7/\n", buf.String())
}

func TestLaunchCommandJSON(t *testing.T) {
	srv := newPortal(t, http.StatusOK)

	buf := &bytes.Buffer{}
	cmd := NewLaunchCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"7", "--portal", srv.URL + "/api"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string       `json:"status"`
		Data   launchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 7, resp.Data.ID)
	assert.Equal(t, srv.URL+"/dash/7/", resp.Data.URL)
}

func TestLaunchCommandRefused(t *testing.T) {
	srv := newPortal(t, http.StatusNotFound)

	buf := &bytes.Buffer{}
	cmd := NewLaunchCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"7", "--portal", srv.URL + "/api"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), CodePortal)
}

func TestLaunchCommandBadID(t *testing.T) {
	cmd := NewLaunchCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"seven", "--portal", "http://localhost:1/api"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
