package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/venue-scanner/internal/camera"
	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/internal/history"
	httpmw "github.com/diagnosis/venue-scanner/internal/http/middleware"
	"github.com/diagnosis/venue-scanner/internal/http/response"
	"github.com/diagnosis/venue-scanner/internal/qr"
	"github.com/diagnosis/venue-scanner/internal/scanner"
	"github.com/diagnosis/venue-scanner/internal/view"
	"github.com/diagnosis/venue-scanner/pkg/logger"
)

type ScannerHandler struct {
	Service      *scanner.Service
	History      history.Store
	Identify     func(token string) (string, error)
	MaxUpload    int64
	HistoryLimit int
	// VerifyMiddleware wraps the verify route, e.g. with an idempotency key check.
	VerifyMiddleware func(http.Handler) http.Handler
}

func NewScannerHandler(svc *scanner.Service, store history.Store, identify func(string) (string, error), maxUpload int64, historyLimit int) *ScannerHandler {
	if store == nil {
		store = history.Nop{}
	}
	return &ScannerHandler{
		Service:      svc,
		History:      store,
		Identify:     identify,
		MaxUpload:    maxUpload,
		HistoryLimit: historyLimit,
	}
}

func (h *ScannerHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpmw.RequireBearer(h.Identify))
	r.Get("/history", h.history)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(h.ownedSession)
			r.Get("/", h.get)
			r.Delete("/", h.remove)
			r.Post("/camera/start", h.startCamera)
			r.Post("/camera/switch", h.switchCamera)
			r.Post("/camera/stop", h.stopCamera)
			r.Post("/frames", h.pushFrame)
			r.Post("/image", h.uploadImage)
			if h.VerifyMiddleware != nil {
				r.With(h.VerifyMiddleware).Post("/verify", h.verify)
			} else {
				r.Post("/verify", h.verify)
			}
			r.Post("/reset", h.reset)
		})
	})
	return r
}

type createSessionReq struct {
	Kind string `json:"kind"`
}

type startCameraReq struct {
	Facing string `json:"facing"`
}

type frameRes struct {
	Accepted bool        `json:"accepted"`
	Screen   view.Screen `json:"screen"`
}

type historyRes struct {
	Operator string           `json:"operator"`
	Records  []history.Record `json:"records"`
}

type sessionCtxKey struct{}

type ownedSession struct {
	session *scanner.Session
	device  *camera.PushDevice
}

// ownedSession resolves the {id} session owned by the caller before any
// route middleware runs. Sessions opened with another credential are
// reported as missing.
func (h *ScannerHandler) ownedSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, device, err := h.Service.Registry().Get(chi.URLParam(r, "id"))
		if err != nil || !s.Owns(httpmw.CallerFrom(r).Token) {
			response.SessionError(w, domain.ErrSessionNotFound)
			return
		}
		ctx := context.WithValue(r.Context(), sessionCtxKey{}, ownedSession{session: s, device: device})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) (*scanner.Session, *camera.PushDevice) {
	owned := r.Context().Value(sessionCtxKey{}).(ownedSession)
	return owned.session, owned.device
}

func writeScreen(w http.ResponseWriter, status int, s *scanner.Session) {
	response.WriteJSON(w, status, view.Render(s.Snapshot()))
}

func (h *ScannerHandler) create(w http.ResponseWriter, r *http.Request) {
	var in createSessionReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
			response.BadRequest(w, "invalid json")
			return
		}
	}
	kind, ok := domain.ParseTicketKind(in.Kind)
	if !ok {
		response.BadRequest(w, "kind must be 'movie' or 'event'")
		return
	}

	s := h.Service.Open(r.Context(), kind, httpmw.CallerFrom(r).Token)
	w.Header().Set("Location", "/v1/scanner/sessions/"+s.ID())
	writeScreen(w, http.StatusCreated, s)
}

func (h *ScannerHandler) get(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r)
	writeScreen(w, http.StatusOK, s)
}

func (h *ScannerHandler) remove(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r)
	if err := h.Service.Registry().Remove(s.ID()); err != nil {
		response.SessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScannerHandler) startCamera(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r)

	var in startCameraReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
			response.BadRequest(w, "invalid json")
			return
		}
	}
	var facing domain.Facing
	if in.Facing != "" {
		f, valid := domain.ParseFacing(in.Facing)
		if !valid {
			response.BadRequest(w, "facing must be 'environment' or 'user'")
			return
		}
		facing = f
	}

	if err := s.StartCamera(r.Context(), facing); err != nil {
		response.SessionError(w, err)
		return
	}
	writeScreen(w, http.StatusOK, s)
}

func (h *ScannerHandler) switchCamera(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r)
	if err := s.SwitchCamera(r.Context()); err != nil {
		response.SessionError(w, err)
		return
	}
	writeScreen(w, http.StatusOK, s)
}

func (h *ScannerHandler) stopCamera(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r)
	if err := s.StopCamera(); err != nil {
		response.SessionError(w, err)
		return
	}
	writeScreen(w, http.StatusOK, s)
}

func (h *ScannerHandler) pushFrame(w http.ResponseWriter, r *http.Request) {
	s, device := sessionFrom(r)

	img, err := qr.ReadFrame(http.MaxBytesReader(w, r.Body, h.MaxUpload), h.Service.MaxFramePixels())
	if errors.Is(err, qr.ErrFrameTooLarge) {
		response.WriteError(w, http.StatusRequestEntityTooLarge, "Frame dimensions too large", response.CodeTooLarge)
		return
	}
	if err != nil {
		response.BadRequest(w, "body must be a PNG, JPEG, GIF or WebP image no larger than "+strconv.FormatInt(h.MaxUpload, 10)+" bytes")
		return
	}

	accepted, err := device.Push(img)
	if err != nil {
		response.WriteError(w, http.StatusConflict, "Camera is not streaming", response.CodeNoActiveCamera)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, frameRes{Accepted: accepted, Screen: view.Render(s.Snapshot())})
}

func (h *ScannerHandler) uploadImage(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUpload)
	if err := r.ParseMultipartForm(h.MaxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.WriteError(w, http.StatusRequestEntityTooLarge, "Image too large", response.CodeTooLarge)
			return
		}
		response.BadRequest(w, "expected multipart form with a file field")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "file is required")
		return
	}
	defer file.Close()

	if err := s.ScanImage(r.Context(), file); err != nil {
		response.SessionError(w, err)
		return
	}
	writeScreen(w, http.StatusOK, s)
}

func (h *ScannerHandler) verify(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r)
	if err := s.Verify(r.Context()); err != nil {
		response.SessionError(w, err)
		return
	}
	writeScreen(w, http.StatusOK, s)
}

func (h *ScannerHandler) reset(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r)
	if err := s.Reset(); err != nil {
		response.SessionError(w, err)
		return
	}
	writeScreen(w, http.StatusOK, s)
}

func (h *ScannerHandler) history(w http.ResponseWriter, r *http.Request) {
	caller := httpmw.CallerFrom(r)
	if caller.Err != nil {
		response.Unauthorized(w, domain.MsgUnauthenticated)
		return
	}
	operator := caller.Operator
	if operator == "" {
		operator = history.AnonymousOperator
	}

	limit := h.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		if limit <= 0 || n < limit {
			limit = n
		}
	}

	records, err := h.History.Recent(r.Context(), operator, limit)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to load scan history", "error", err)
		response.InternalError(w, "Failed to load scan history")
		return
	}
	response.WriteJSON(w, http.StatusOK, historyRes{Operator: operator, Records: records})
}
