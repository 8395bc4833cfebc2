package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPSourceListsManifestEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name":"greet","version":"1.0.0","script_source":"function handle(i){return i}"},
			{"name":"farewell","version":"1.0.0","script_source":"function handle(i){return i}"}
		]`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL)
	defs, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, "manifest-entry-0000", defs[0].Path)
	require.Equal(t, "manifest-entry-0001", defs[1].Path)
	require.Equal(t, "greet", defs[0].Name)
	require.NotEmpty(t, defs[0].ContentHash)
}

func TestHTTPSourceNonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL).List(context.Background())
	require.Error(t, err)
}

func TestHTTPSourceMalformedManifestIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not": "an array"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL).List(context.Background())
	require.Error(t, err)
}

func TestHTTPSourceEmptyManifestReturnsNoDefinitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	defs, err := NewHTTPSource(srv.URL).List(context.Background())
	require.NoError(t, err)
	require.Empty(t, defs)
}
