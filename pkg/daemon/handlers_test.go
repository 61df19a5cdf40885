package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispcal/dispcal/pkg/calibration"
	"github.com/dispcal/dispcal/pkg/config"
	"github.com/dispcal/dispcal/pkg/events"
	"github.com/dispcal/dispcal/pkg/transport"
	"github.com/dispcal/dispcal/pkg/types"
	"github.com/dispcal/dispcal/pkg/utils/ptr"
	"github.com/dispcal/dispcal/pkg/version"
)

// replyTransport answers each read with the next scripted line.
type replyTransport struct {
	mu      sync.Mutex
	open    bool
	replies []string
	closed  bool
}

func (r *replyTransport) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
	return nil
}

func (r *replyTransport) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *replyTransport) Write(context.Context, string) error {
	if !r.IsOpen() {
		return transport.ErrDeviceNotReady
	}
	return nil
}

func (r *replyTransport) Read(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return "", transport.ErrDeviceNotReady
	}
	if len(r.replies) == 0 {
		return "", transport.ErrTimeout
	}
	line := r.replies[0]
	r.replies = r.replies[1:]
	return line, nil
}

func (r *replyTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.closed = true
	return nil
}

// stuckTransport is a transport whose Open always fails.
type stuckTransport struct{ replyTransport }

func (*stuckTransport) Open() error { return transport.ErrDeviceNotReady }

func setupTestDaemon(t *testing.T, c calibration.Calibration) *gin.Engine {
	t.Helper()
	t.Setenv(config.PortEnv, "")

	dir := t.TempDir()
	confPath = filepath.Join(dir, "dispcal.json")
	conf = config.NewFileFromConfig(&config.RawFileConfig{
		DataPath: ptr.To(filepath.Join(dir, "calibration.yaml")),
	}, confPath)

	calMu.Lock()
	cal = c
	calMu.Unlock()
	openedKey = deviceKey(conf)

	history = NewMeasurementHistory(100)
	sseHub = events.NewEventHub()
	scheduler.Unschedule()
	t.Cleanup(scheduler.Unschedule)

	return setupRoutes()
}

func newTestMinolta(replies ...string) (*calibration.Minolta, *replyTransport) {
	tr := &replyTransport{open: true, replies: replies}
	return calibration.NewMinolta(tr), tr
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestGetVersion(t *testing.T) {
	r := setupTestDaemon(t, calibration.NewBase(""))
	w := do(r, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, version.Version, decode[string](t, w))
}

func TestGetConfig(t *testing.T) {
	r := setupTestDaemon(t, calibration.NewBase(""))
	w := do(r, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	raw := decode[config.RawFileConfig](t, w)
	assert.Equal(t, calibration.KindMinolta, *raw.Device)
	assert.Equal(t, 4800, *raw.BaudRate)
}

func TestPostMeasure(t *testing.T) {
	m, _ := newTestMinolta("OK00,  10.00,.3100,.3200", "OK00,  20.00,.3100,.3200", "OK00,  30.00,.3100,.3200")
	r := setupTestDaemon(t, m)
	ch := sseHub.Subscribe()

	w := do(r, http.MethodPost, "/measure", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s := decode[calibration.Summary](t, w)
	assert.Equal(t, 1, s.Count)
	assert.InDelta(t, 10.0, s.Luminance, 1e-9)

	ev := <-ch
	assert.Equal(t, events.MeasurementTaken, ev.Name)
	p, err := events.DecodeAs[events.MeasurementEvent](ev)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, p.Luminance, 1e-9)
	assert.False(t, p.Scheduled)

	w = do(r, http.MethodPost, "/measure", "2")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s = decode[calibration.Summary](t, w)
	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, 25.0, s.Luminance, 1e-9)

	assert.Equal(t, 3, history.Len())

	w = do(r, http.MethodGet, "/measurements?last=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]calibration.Measurement](t, w), 2)

	w = do(r, http.MethodGet, "/measurements?since=1h", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]calibration.Measurement](t, w), 3)

	w = do(r, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[types.Status](t, w)
	assert.Equal(t, 3, st.Measurements)
	require.NotNil(t, st.Latest)
	assert.InDelta(t, 30.0, st.Latest.Luminance, 1e-9)
	assert.True(t, st.Device.Open)
	assert.Equal(t, calibration.MinoltaDescription, st.Device.Description)

	w = do(r, http.MethodDelete, "/measurements", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, history.Len())
}

func TestPostMeasure_BadInput(t *testing.T) {
	m, _ := newTestMinolta()
	r := setupTestDaemon(t, m)

	for _, body := range []string{"0", "-1", "101", "\"two\"", "{"} {
		w := do(r, http.MethodPost, "/measure", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}

	for _, q := range []string{"last=x", "last=-2", "since=soon", "since=-1m"} {
		w := do(r, http.MethodGet, "/measurements?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestPostMeasure_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		setup  func() calibration.Calibration
		status int
	}{
		{
			name: "not ready",
			setup: func() calibration.Calibration {
				return calibration.NewMinolta(&stuckTransport{})
			},
			status: http.StatusServiceUnavailable,
		},
		{
			name: "timeout",
			setup: func() calibration.Calibration {
				m, _ := newTestMinolta()
				return m
			},
			status: http.StatusGatewayTimeout,
		},
		{
			name: "instrument error",
			setup: func() calibration.Calibration {
				m, _ := newTestMinolta("ER10")
				return m
			},
			status: http.StatusBadGateway,
		},
		{
			name: "malformed",
			setup: func() calibration.Calibration {
				m, _ := newTestMinolta("OK00,1")
				return m
			},
			status: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupTestDaemon(t, tt.setup())
			ch := sseHub.Subscribe()

			w := do(r, http.MethodPost, "/measure", "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, 0, history.Len())

			ev := <-ch
			assert.Equal(t, events.MeasurementFailed, ev.Name)
		})
	}
}

func TestPostMeasure_NoInstrument(t *testing.T) {
	r := setupTestDaemon(t, calibration.NewBase("plain"))

	w := do(r, http.MethodPost, "/measure", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[calibration.Summary](t, w).Count)

	w = do(r, http.MethodGet, "/device", "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[types.DeviceInfo](t, w)
	assert.Equal(t, "plain", info.Description)
	assert.True(t, info.Open)
	assert.Empty(t, info.Port)
}

func TestCurveApplyRamp(t *testing.T) {
	r := setupTestDaemon(t, calibration.NewBase(""))
	ch := sseHub.Subscribe()

	w := do(r, http.MethodPost, "/apply", "0.3")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.3, decode[float64](t, w))

	w = do(r, http.MethodPut, "/calibration/curve", `{"kind":"gamma","min":0,"max":1,"exponent":2}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, calibration.GammaCurve(0, 1, 2), decode[calibration.Curve](t, w))
	assert.Equal(t, events.CurveChanged, (<-ch).Name)

	w = do(r, http.MethodPost, "/apply", "0.5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.25, decode[float64](t, w), 1e-12)

	w = do(r, http.MethodGet, "/gamma-ramp?size=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDeltaSlice(t, []float64{0, 0.25, 1}, decode[[]float64](t, w), 1e-12)

	w = do(r, http.MethodGet, "/gamma-ramp", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]float64](t, w), 256)

	for _, q := range []string{"size=1", "size=x", "size=70000"} {
		assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/gamma-ramp?"+q, "").Code, q)
	}

	w = do(r, http.MethodPut, "/calibration/curve", `{"kind":"gamma","min":0,"max":1,"exponent":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPut, "/calibration/curve", `{"kind":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPost, "/apply", `"half"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, calibration.GammaCurve(0, 1, 2), currentCalibration().Curve())
}

func TestSaveLoad(t *testing.T) {
	r := setupTestDaemon(t, calibration.NewBase("desk"))

	require.NoError(t, currentCalibration().SetCurve(calibration.GammaCurve(0.1, 0.9, 2.2)))

	w := do(r, http.MethodPost, "/calibration/save", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, conf.DataPath(), decode[string](t, w))
	_, err := os.Stat(conf.DataPath())
	require.NoError(t, err)

	other := filepath.Join(t.TempDir(), "other.json")
	w = do(r, http.MethodPost, "/calibration/save", `"`+other+`"`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.NoError(t, currentCalibration().SetCurve(calibration.IdentityCurve()))

	w = do(r, http.MethodPost, "/calibration/load", `"`+other+`"`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[calibration.Record](t, w)
	assert.Equal(t, calibration.GammaCurve(0.1, 0.9, 2.2), rec.Curve)
	assert.Equal(t, "desk", rec.Description)

	w = do(r, http.MethodGet, "/calibration", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, calibration.GammaCurve(0.1, 0.9, 2.2), decode[calibration.Record](t, w).Curve)
}

func TestSaveLoad_Errors(t *testing.T) {
	r := setupTestDaemon(t, calibration.NewBase(""))
	dir := t.TempDir()

	w := do(r, http.MethodPost, "/calibration/load", `"`+filepath.Join(dir, "missing.yaml")+`"`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{"), 0o644))
	w = do(r, http.MethodPost, "/calibration/load", `"`+corrupt+`"`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodPost, "/calibration/save", `"`+filepath.Join(corrupt, "nested.yaml")+`"`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(r, http.MethodPost, "/calibration/save", `42`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchedule(t *testing.T) {
	r := setupTestDaemon(t, calibration.NewBase(""))

	w := do(r, http.MethodPut, "/schedule", `"@every 1h"`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	runs := decode[[]time.Time](t, w)
	require.Len(t, runs, 3)
	assert.True(t, runs[1].After(runs[0]))
	assert.Equal(t, "@every 1h", conf.Cron())

	saved, err := config.NewFile(confPath)
	require.NoError(t, err)
	assert.Equal(t, "@every 1h", saved.Cron())

	w = do(r, http.MethodGet, "/schedule", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[types.ScheduleStatus](t, w)
	assert.True(t, st.Running)
	assert.Equal(t, "@every 1h", st.Cron)

	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/schedule/postpone", `"1m"`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/schedule/postpone", `"2h"`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/schedule/postpone", `"later"`).Code)
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/schedule/skip", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/schedule", `"every now and then"`).Code)

	w = do(r, http.MethodPut, "/schedule", `""`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, decode[[]time.Time](t, w))
	assert.Equal(t, "", conf.Cron())
	assert.False(t, scheduleStatus().Running)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/schedule/skip", "").Code)
}

func TestDriftCheck(t *testing.T) {
	m, _ := newTestMinolta("OK00,  55.00,.3127,.3290")
	setupTestDaemon(t, m)
	ch := sseHub.Subscribe()

	require.NoError(t, driftCheck(context.Background()))
	assert.Equal(t, 1, history.Len())

	p, err := events.DecodeAs[events.MeasurementEvent](<-ch)
	require.NoError(t, err)
	assert.True(t, p.Scheduled)
	assert.InDelta(t, 55.0, p.Luminance, 1e-9)

	assert.ErrorIs(t, driftCheck(context.Background()), calibration.ErrTimeout)
	require.NoError(t, deviceReady(context.Background()))

	setupTestDaemon(t, calibration.NewMinolta(&stuckTransport{}))
	assert.ErrorIs(t, deviceReady(context.Background()), calibration.ErrDeviceNotReady)
}

func TestReloadDevice(t *testing.T) {
	m, tr := newTestMinolta()
	setupTestDaemon(t, m)
	require.NoError(t, m.SetCurve(calibration.GammaCurve(0, 1, 1.8)))

	// Unchanged settings keep the device.
	require.NoError(t, reloadDevice())
	assert.Same(t, m, currentCalibration())

	conf.SetDevice(calibration.KindNone)
	conf.SetDescription("no meter")
	require.NoError(t, reloadDevice())

	next := currentCalibration()
	assert.IsType(t, &calibration.Base{}, next)
	assert.Equal(t, "no meter", next.Description())
	assert.Equal(t, calibration.GammaCurve(0, 1, 1.8), next.Curve())
	assert.True(t, tr.closed, "the previous instrument must be released")

	conf.SetDevice("spectroradiometer")
	assert.Error(t, reloadDevice())
	assert.Same(t, next, currentCalibration())
}

func TestReloadDevice_ConcurrentReloadsOpenOnce(t *testing.T) {
	m, _ := newTestMinolta()
	setupTestDaemon(t, m)

	var opens int
	var mu sync.Mutex
	prev := openDevice
	openDevice = func(c config.Config) (calibration.Calibration, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return calibration.NewBase(c.Description()), nil
	}
	t.Cleanup(func() { openDevice = prev })

	conf.SetDevice(calibration.KindNone)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, reloadDevice())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opens)
	assert.IsType(t, &calibration.Base{}, currentCalibration())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{calibration.ErrDeviceNotReady, http.StatusServiceUnavailable},
		{calibration.ErrTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&calibration.InstrumentError{Code: "ER00"}, http.StatusBadGateway},
		{calibration.ErrMalformedResponse, http.StatusBadGateway},
		{calibration.ErrInvalidCurve, http.StatusBadRequest},
		{calibration.ErrFileFormat, http.StatusUnprocessableEntity},
		{calibration.ErrIO, http.StatusInternalServerError},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestEventStream(t *testing.T) {
	r := setupTestDaemon(t, calibration.NewBase(""))
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return sseHub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	sseHub.Publish(events.CurveChanged, events.CurveChangedEvent{Kind: "table", Ts: 1})

	sc := bufio.NewScanner(resp.Body)
	var name, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			name = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(v)
			break
		}
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, events.CurveChanged, name)
	assert.JSONEq(t, `{"kind":"table","ts":1}`, data)
}

func TestEventWebsocket(t *testing.T) {
	r := setupTestDaemon(t, calibration.NewBase(""))
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return sseHub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	sseHub.Publish(events.CalibrationSaved, events.FileEvent{Path: "/tmp/x.yaml", Ts: 2})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev types.WireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.CalibrationSaved, ev.Name)
	assert.JSONEq(t, `{"path":"/tmp/x.yaml","ts":2}`, string(ev.Data))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return sseHub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
