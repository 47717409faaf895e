package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billfetch/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestProbeReachable(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.UserAgent()
		w.Write([]byte("<app-root></app-root>"))
	}))
	defer server.Close()

	tel := &telemetry.Recorder{}
	prober, err := NewHttpProber(server.URL, "", time.Second, tel)
	if err != nil {
		t.Fatal(err)
	}

	err = prober.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, DefaultUserAgent, userAgent)
	require.Empty(t, tel.Reports("warning"))
}

func TestProbeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tel := &telemetry.Recorder{}
	prober, err := NewHttpProber(server.URL, "", time.Second, tel)
	if err != nil {
		t.Fatal(err)
	}

	err = prober.Probe(context.Background(), server.URL)
	require.ErrorIs(t, err, ErrSessionFailure)
	require.Equal(t, KindSession, KindOf(err))
	require.Len(t, tel.Reports("warning"), 1)
}

func TestProbeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	prober, err := NewHttpProber(url, "", time.Second, &telemetry.Recorder{})
	if err != nil {
		t.Fatal(err)
	}
	err = prober.Probe(context.Background(), url)
	require.ErrorIs(t, err, ErrSessionFailure)
}

func TestProbeMaintenancePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>Maintenance</title></head><body>Site is under maintenance.</body></html>"))
	}))
	defer server.Close()

	prober, err := NewHttpProber(server.URL, "", time.Second, &telemetry.Recorder{})
	if err != nil {
		t.Fatal(err)
	}
	err = prober.Probe(context.Background(), server.URL)
	require.ErrorIs(t, err, ErrSessionFailure)
}
