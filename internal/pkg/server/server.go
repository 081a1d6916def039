package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/anicoll/smart-canopy/internal/pkg/controller"
	"github.com/anicoll/smart-canopy/internal/pkg/directory"
	"github.com/anicoll/smart-canopy/internal/pkg/model"
	"github.com/anicoll/smart-canopy/internal/pkg/topics"
)

var (
	errNoDirectory = errors.New("no device directory configured")
	errNoSelection = errors.New("no device selected")
)

type canopyController interface {
	State() model.State
	Subscribe() (<-chan model.State, func())
	SetSelectedDevice(id string) error
	Connect()
	Disconnect()
	PublishMode(mode model.Mode) (bool, error)
	PublishServo(cmd model.ServoCommand) (bool, error)
}

type deviceRefresher interface {
	Refresh(ctx context.Context) error
}

type historyService interface {
	FetchTelemetry(ctx context.Context, kind, deviceKey string, minutes int) ([]directory.Point, error)
}

type server struct {
	ctl       canopyController
	refresher deviceRefresher
	history   historyService
	logger    *zap.Logger
}

type Option func(*server)

func WithRefresher(r deviceRefresher) Option {
	return func(s *server) {
		s.refresher = r
	}
}

func WithHistory(h historyService) Option {
	return func(s *server) {
		s.history = h
	}
}

func New(ctl canopyController, opts ...Option) *server {
	s := &server{ctl: ctl, logger: zap.L().With(zap.String("component", "server"))}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the routing tree for the dashboard API and state stream.
func (s *server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware)

	r.Route("/api", func(api chi.Router) {
		api.Get("/state", s.GetState)
		api.Get("/devices", s.GetDevices)
		api.Post("/devices/refresh", s.PostDevicesRefresh)
		api.Put("/selection", s.PutSelection)
		api.Post("/connect", s.PostConnect)
		api.Post("/disconnect", s.PostDisconnect)
		api.Post("/commands/mode", s.PostModeCommand)
		api.Post("/commands/servo", s.PostServoCommand)
		api.Get("/telemetries/{kind}", func(w http.ResponseWriter, r *http.Request) {
			s.GetTelemetries(w, r, chi.URLParam(r, "kind"))
		})
	})
	r.Get("/ws/state", s.StreamState)
	return r
}

func (s *server) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.State())
}

type deviceView struct {
	model.DeviceDescriptor
	Status   model.DeviceRuntimeStatus `json:"status"`
	Selected bool                      `json:"selected"`
}

func (s *server) GetDevices(w http.ResponseWriter, r *http.Request) {
	st := s.ctl.State()
	out := make([]deviceView, 0, len(st.Devices))
	for _, d := range st.Devices {
		out = append(out, deviceView{DeviceDescriptor: d, Status: st.Statuses[d.ID], Selected: d.ID == st.SelectedDeviceID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) PostDevicesRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		handleError(w, http.StatusServiceUnavailable, errNoDirectory)
		return
	}
	if err := s.refresher.Refresh(r.Context()); err != nil {
		s.logger.Warn("device refresh failed", zap.Error(err))
		handleError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.State().Devices)
}

type selectionPayload struct {
	DeviceID string `json:"deviceId"`
}

func (s *server) PutSelection(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[selectionPayload](r)
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctl.SetSelectedDevice(req.DeviceID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, topics.ErrInvalidDeviceID) {
			status = http.StatusBadRequest
		}
		handleError(w, status, err)
		return
	}
	s.logger.Info("device selected", zap.String("device", req.DeviceID))
	writeJSON(w, http.StatusOK, s.ctl.State())
}

// PostConnect only starts the attempt; the outcome arrives on the state stream.
func (s *server) PostConnect(w http.ResponseWriter, r *http.Request) {
	s.ctl.Connect()
	writeJSON(w, http.StatusAccepted, s.ctl.State().Session)
}

func (s *server) PostDisconnect(w http.ResponseWriter, r *http.Request) {
	s.ctl.Disconnect()
	writeJSON(w, http.StatusOK, s.ctl.State().Session)
}

type modePayload struct {
	Mode string `json:"mode"`
}

type servoPayload struct {
	Cmd string `json:"cmd"`
}

type commandResult struct {
	Sent bool `json:"sent"`
}

func (s *server) PostModeCommand(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[modePayload](r)
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	s.sendCommand(w, func() (bool, error) { return s.ctl.PublishMode(model.Mode(req.Mode)) })
}

func (s *server) PostServoCommand(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[servoPayload](r)
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	s.sendCommand(w, func() (bool, error) { return s.ctl.PublishServo(model.ServoCommand(req.Cmd)) })
}

func (s *server) sendCommand(w http.ResponseWriter, send func() (bool, error)) {
	sent, err := send()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, controller.ErrInvalidCommand) {
			status = http.StatusBadRequest
		}
		handleError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResult{Sent: sent})
}

// GetTelemetries proxies the history service for the selected device.
func (s *server) GetTelemetries(w http.ResponseWriter, r *http.Request, kind string) {
	if s.history == nil {
		handleError(w, http.StatusServiceUnavailable, errNoDirectory)
		return
	}
	deviceKey := s.ctl.State().SelectedDeviceID
	if deviceKey == "" {
		handleError(w, http.StatusConflict, errNoSelection)
		return
	}
	minutes := 0
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			handleError(w, http.StatusBadRequest, fmt.Errorf("invalid minutes %q", v))
			return
		}
		minutes = n
	}
	points, err := s.history.FetchTelemetry(r.Context(), kind, deviceKey, minutes)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, directory.ErrUnknownKind) {
			status = http.StatusNotFound
		}
		handleError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

type errorBody struct {
	Error string `json:"error"`
}

func handleError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("writing response", zap.Error(err))
	}
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	var out T
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return &out, nil
}
