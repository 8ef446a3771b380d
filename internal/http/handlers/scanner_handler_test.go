package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/internal/history"
	"github.com/diagnosis/venue-scanner/internal/scanner"
	"github.com/diagnosis/venue-scanner/internal/ticketapi"
	"github.com/diagnosis/venue-scanner/internal/view"
	mw "github.com/diagnosis/venue-scanner/pkg/middleware"
)

const ticketJSON = `{"message":"ok","data":{"movieName":"Dune","theaterName":"Cineplex","showtime":"7:30 PM","date":"2025-01-01","seatNumbers":["A1","A2"],"ticketPrice":25.5,"bookingStatus":"Confirmed"}}`

type memHistory struct {
	records []history.Record
}

func (m *memHistory) Append(_ context.Context, rec history.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memHistory) Recent(_ context.Context, operator string, limit int) ([]history.Record, error) {
	out := []history.Record{}
	for _, rec := range m.records {
		if rec.Operator == operator && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fixture struct {
	router  http.Handler
	handler *ScannerHandler
	history *memHistory
}

func newFixture(t *testing.T, tweaks ...func(*scanner.Options)) *fixture {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/scanner/movie/ticket":
			w.Write([]byte(ticketJSON))
		case "/api/scanner/movie/food":
			w.Write([]byte(`{"data":[]}`))
		case "/api/scanner/movie/verify":
			w.Write([]byte(`{"message":"Ticket verified successfully."}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(backend.Close)

	identify := func(token string) (string, error) {
		if token == "expired" {
			return "", domain.ErrUnauthenticated
		}
		return "op-" + token, nil
	}
	store := &memHistory{}
	opts := scanner.Options{
		API:       ticketapi.NewClient(backend.URL, 2*time.Second),
		Identify:  identify,
		Observers: []scanner.Observer{history.NewObserver(store)},
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	svc := scanner.NewService(opts)
	t.Cleanup(svc.Registry().Close)

	h := NewScannerHandler(svc, store, identify, 1<<20, 20)
	return &fixture{router: h.Routes(), handler: h, history: store}
}

func (f *fixture) do(t *testing.T, method, path, token string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeScreen(t *testing.T, rec *httptest.ResponseRecorder) view.Screen {
	t.Helper()
	var screen view.Screen
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &screen))
	return screen
}

func qrPNG(t *testing.T, content string) []byte {
	t.Helper()
	b, err := qrcode.Encode(content, qrcode.Medium, 256)
	require.NoError(t, err)
	return b
}

func multipartImage(t *testing.T, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "ticket.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func (f *fixture) open(t *testing.T, token string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/sessions", token, []byte(`{"kind":"movie"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	screen := decodeScreen(t, rec)
	assert.Equal(t, domain.ModeIdle, screen.Mode)
	return screen.SessionID
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/sessions", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/sessions", "tok", []byte(`{"kind":"concert"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/sessions", "tok", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "movie", decodeScreen(t, rec).Kind)
}

func TestUploadAndVerify(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, "tok")
	base := "/sessions/" + id

	body, ct := multipartImage(t, qrPNG(t, `{"bookingId":"BK1001"}`))
	rec := f.do(t, http.MethodPost, base+"/image", "tok", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	screen := decodeScreen(t, rec)
	assert.Equal(t, domain.ModeReady, screen.Mode)
	require.NotNil(t, screen.Ticket)
	assert.Equal(t, 2, screen.Ticket.SeatCount)
	assert.Equal(t, "$25.50", screen.Ticket.Price)
	assert.Nil(t, screen.Food)

	rec = f.do(t, http.MethodPost, base+"/verify", "tok", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	screen = decodeScreen(t, rec)
	assert.Equal(t, domain.ModeVerified, screen.Mode)
	assert.Equal(t, "Ticket verified successfully.", screen.SuccessMessage)
	assert.False(t, screen.Ticket.VerifyVisible)

	rec = f.do(t, http.MethodPost, base+"/verify", "tok", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/history", "tok", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist historyRes
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Equal(t, "op-tok", hist.Operator)
	require.Len(t, hist.Records, 2)
	assert.Equal(t, domain.OutcomeLoaded, hist.Records[0].Outcome)
	assert.Equal(t, domain.OutcomeVerified, hist.Records[1].Outcome)

	rec = f.do(t, http.MethodPost, base+"/reset", "tok", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ModeIdle, decodeScreen(t, rec).Mode)
}

func TestSessionOwnership(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, "tok")

	rec := f.do(t, http.MethodGet, "/sessions/"+id, "other", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/sessions/"+id, "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/sessions/missing", "tok", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/sessions/"+id, "tok", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/sessions/"+id, "tok", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCameraFlow(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, "tok")
	base := "/sessions/" + id

	rec := f.do(t, http.MethodPost, base+"/frames", "tok", qrPNG(t, `{"bookingId":"BK1001"}`), "image/png")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/camera/start", "tok", []byte(`{"facing":"sideways"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/camera/start", "tok", []byte(`{"facing":"user"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	screen := decodeScreen(t, rec)
	assert.Equal(t, domain.ModeCameraActive, screen.Mode)
	assert.True(t, screen.Overlay.Active)
	assert.Equal(t, domain.FacingUser, screen.CameraFacing)

	rec = f.do(t, http.MethodPost, base+"/camera/switch", "tok", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.FacingEnvironment, decodeScreen(t, rec).CameraFacing)

	body, ct := multipartImage(t, qrPNG(t, `{"bookingId":"BK1001"}`))
	rec = f.do(t, http.MethodPost, base+"/image", "tok", body, ct)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/frames", "tok", []byte("garbage"), "image/png")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/frames", "tok", qrPNG(t, `{"bookingId":"BK1001"}`), "image/png")
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, base, "tok", nil, "")
		return decodeScreen(t, rec).Mode == domain.ModeReady
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStopCamera(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, "tok")
	base := "/sessions/" + id

	rec := f.do(t, http.MethodPost, base+"/camera/stop", "tok", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.do(t, http.MethodPost, base+"/camera/start", "tok", nil, "")
	rec = f.do(t, http.MethodPost, base+"/camera/stop", "tok", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ModeIdle, decodeScreen(t, rec).Mode)
}

func TestHistoryValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/history", "expired", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/history?limit=abc", "tok", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/history?limit=5", "tok", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"operator":"op-tok","records":[]}`, rec.Body.String())
}

type mapIdempotencyStore struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *mapIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *mapIdempotencyStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func TestVerifyReplayRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	f.handler.VerifyMiddleware = mw.IdempotencyKey(&mapIdempotencyStore{m: map[string]string{}}, time.Hour)
	f.router = f.handler.Routes()

	id := f.open(t, "alice")
	base := "/sessions/" + id
	body, ct := multipartImage(t, qrPNG(t, `{"bookingId":"BK1001"}`))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/image", "alice", body, ct).Code)

	verify := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, base+"/verify", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "k1")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	rec := verify("alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ModeVerified, decodeScreen(t, rec).Mode)

	rec = verify("mallory")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Idempotent-Replay"))
	assert.NotContains(t, rec.Body.String(), "BK1001")

	rec = verify("alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replay"))
}

func TestOversizedFramesRejected(t *testing.T) {
	f := newFixture(t, func(o *scanner.Options) { o.MaxFramePixels = 100 * 100 })
	id := f.open(t, "tok")
	base := "/sessions/" + id

	rec := f.do(t, http.MethodPost, base+"/camera/start", "tok", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/frames", "tok", qrPNG(t, `{"bookingId":"BK1001"}`), "image/png")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, domain.ModeCameraActive, decodeScreen(t, f.do(t, http.MethodGet, base, "tok", nil, "")).Mode)

	rec = f.do(t, http.MethodPost, base+"/camera/stop", "tok", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body, ct := multipartImage(t, qrPNG(t, `{"bookingId":"BK1001"}`))
	rec = f.do(t, http.MethodPost, base+"/image", "tok", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	screen := decodeScreen(t, rec)
	assert.Equal(t, domain.ModeIdle, screen.Mode)
	assert.Equal(t, domain.MsgImageUnreadable, screen.ErrorMessage)
}
