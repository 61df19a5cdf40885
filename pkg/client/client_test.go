package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispcal/dispcal/pkg/calibration"
	"github.com/dispcal/dispcal/pkg/events"
)

// serveUnix serves h on a unix socket in a temp dir and returns its path.
func serveUnix(t *testing.T, h http.Handler) string {
	t.Helper()
	// Socket paths are limited to ~100 bytes, so avoid deep temp dirs.
	dir, err := os.MkdirTemp("", "dispcal")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return sock
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_RoundTrip(t *testing.T) {
	var gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, "v1.2.3")
	})
	mux.HandleFunc("/measure", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		writeJSON(w, http.StatusOK, calibration.Summary{Count: 2, Luminance: 42})
	})
	mux.HandleFunc("/apply", func(w http.ResponseWriter, r *http.Request) {
		var v float64
		_ = json.NewDecoder(r.Body).Decode(&v)
		writeJSON(w, http.StatusOK, v*v)
	})
	mux.HandleFunc("/calibration/save", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if len(b) == 0 {
			writeJSON(w, http.StatusCreated, "/var/lib/dispcal/calibration.yaml")
			return
		}
		var p string
		_ = json.Unmarshal(b, &p)
		writeJSON(w, http.StatusCreated, p)
	})

	c := NewClient(serveUnix(t, mux))

	v, err := c.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)

	s, err := c.Measure(2)
	require.NoError(t, err)
	assert.Equal(t, "2", gotBody)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 42.0, s.Luminance)

	out, err := c.Apply(0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.25, out)

	p, err := c.Save("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/dispcal/calibration.yaml", p)
	p, err = c.Save("/tmp/with \"quotes\".json")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/with \"quotes\".json", p)
}

func TestClient_StatusErrors(t *testing.T) {
	statuses := map[string]int{
		"/notready":  http.StatusServiceUnavailable,
		"/timeout":   http.StatusGatewayTimeout,
		"/format":    http.StatusUnprocessableEntity,
		"/bad":       http.StatusBadRequest,
		"/upstream":  http.StatusBadGateway,
		"/not-found": http.StatusNotFound,
	}
	mux := http.NewServeMux()
	for path, status := range statuses {
		status := status
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, status, fmt.Sprintf("failure %d", status))
		})
	}
	c := NewClient(serveUnix(t, mux))

	tests := []struct {
		path string
		want error
	}{
		{"/notready", calibration.ErrDeviceNotReady},
		{"/timeout", calibration.ErrTimeout},
		{"/format", calibration.ErrFileFormat},
		{"/bad", ErrBadRequest},
		{"/not-found", ErrNotFound},
	}
	for _, tt := range tests {
		_, err := c.Get(tt.path)
		assert.ErrorIs(t, err, tt.want, tt.path)
	}

	_, err := c.Get("/upstream")
	require.Error(t, err)
	assert.Equal(t, "got 502: failure 502", err.Error())
}

func TestClient_DaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetVersion()
	assert.ErrorIs(t, err, ErrDaemonNotRunning)

	_, err = c.Send("PATCH", "/version", "")
	assert.Error(t, err)
}

func TestClient_SubscribeEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "event:keepalive\ndata:{}\n\n")
		fmt.Fprint(w, "event:curve.changed\ndata:{\"kind\":\"gamma\",\"ts\":3}\n\n")
		fmt.Fprint(w, "event:measurement.taken\ndata: {\"luminance\":12.5,\"ts\":4}\n\n")
		fl.Flush()
	})
	c := NewClient(serveUnix(t, mux))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []events.Event
	for ev := range c.SubscribeEvents(ctx) {
		got = append(got, ev)
	}

	require.Len(t, got, 2)
	assert.Equal(t, events.CurveChanged, got[0].Name)
	p, err := events.DecodeAs[events.MeasurementEvent](got[1])
	require.NoError(t, err)
	assert.Equal(t, 12.5, p.Luminance)
}

func TestReadEvents_MultilineData(t *testing.T) {
	out := make(chan events.Event, 4)
	sc := bufio.NewScanner(strings.NewReader("event:x\ndata:a\ndata:b\n\n: comment\n\n"))
	readEvents(context.Background(), sc, out)
	close(out)

	ev := <-out
	assert.Equal(t, "x", ev.Name)
	assert.Equal(t, "a\nb", string(ev.Data))
	_, ok := <-out
	assert.False(t, ok)
}
