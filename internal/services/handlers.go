package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/go-playground/validator/v10"
	"github.com/twpayne/go-kml"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc/codes"

	"github.com/wandermate/navigation/server/internal/clients/geocoding"
	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/kmlexport"
	"github.com/wandermate/navigation/server/internal/lib/routing"
	"github.com/wandermate/navigation/server/internal/lib/tracking"
)

// SessionsPath is the prefix every navigation endpoint lives under
const SessionsPath = "/api/v1/sessions"

const maxBodyBytes = 1 << 16

// CoordinateRequest is a coordinate in a request body
type CoordinateRequest struct {
	Latitude  *float64 `json:"lat" validate:"required,latitude"`
	Longitude *float64 `json:"lng" validate:"required,longitude"`
}

func (c CoordinateRequest) coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: *c.Latitude, Longitude: *c.Longitude}
}

// CreateSessionRequest starts navigation toward a coordinate or an address
type CreateSessionRequest struct {
	Destination     *CoordinateRequest `json:"destination"`
	Address         string             `json:"address" validate:"max=500"`
	DestinationName string             `json:"destination_name" validate:"max=200"`
}

// PositionRequest is a device location report. Error reports a location failure instead of a fix
// and is one of "denied", "unavailable" or "timeout".
type PositionRequest struct {
	Latitude  *float64   `json:"lat" validate:"omitempty,latitude"`
	Longitude *float64   `json:"lng" validate:"omitempty,longitude"`
	Speed     *float64   `json:"speed" validate:"omitempty,gte=0"`
	Timestamp *time.Time `json:"timestamp"`
	Error     string     `json:"error" validate:"omitempty,oneof=denied unavailable timeout"`
}

// SelectRouteRequest picks a route alternative by index
type SelectRouteRequest struct {
	Index *int `json:"index" validate:"required"`
}

// SessionResponse wraps a display snapshot
type SessionResponse struct {
	SessionID string       `json:"session_id"`
	Display   DisplayState `json:"display"`
}

// PositionResponse acknowledges a position report
type PositionResponse struct {
	Accepted   bool      `json:"accepted"`
	ReceivedAt time.Time `json:"received_at"`
}

// SelectRouteResponse reports whether a selection was applied
type SelectRouteResponse struct {
	Selected bool         `json:"selected"`
	Display  DisplayState `json:"display"`
}

// RoutesResponse lists the alternatives for a session
type RoutesResponse struct {
	SessionID string                `json:"session_id"`
	Selected  int                   `json:"selected"`
	Routes    []routing.RouteOption `json:"routes"`
}

// Route is one endpoint. Exactly one of JSON and HTTP is set.
type Route struct {
	Pattern string
	JSON    prefab.JSONHandler
	HTTP    http.HandlerFunc
}

// Handlers exposes sessions over HTTP
type Handlers struct {
	manager  *SessionManager
	weather  *RouteWeatherService // nil when weather is not configured
	validate *validator.Validate
	now      func() time.Time
}

// NewHandlers creates handlers for manager. weather may be nil.
func NewHandlers(manager *SessionManager, weather *RouteWeatherService) *Handlers {
	return &Handlers{
		manager:  manager,
		weather:  weather,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Routes lists every session endpoint keyed by method and path pattern
func (h *Handlers) Routes() []Route {
	return []Route{
		{Pattern: "POST " + SessionsPath, JSON: h.createSession},
		{Pattern: "GET " + SessionsPath + "/{id}", JSON: h.getSession},
		{Pattern: "DELETE " + SessionsPath + "/{id}", JSON: h.endSession},
		{Pattern: "POST " + SessionsPath + "/{id}/positions", JSON: h.postPosition},
		{Pattern: "POST " + SessionsPath + "/{id}/route", JSON: h.selectRoute},
		{Pattern: "GET " + SessionsPath + "/{id}/routes", JSON: h.listRoutes},
		{Pattern: "GET " + SessionsPath + "/{id}/weather", JSON: h.routeWeather},
		{Pattern: "GET " + SessionsPath + "/{id}/routes.kml", HTTP: h.routesKML},
		{Pattern: "GET " + SessionsPath + "/{id}/trip.kml", HTTP: h.tripKML},
	}
}

// ServerOptions registers every route with a prefab server
func (h *Handlers) ServerOptions() []prefab.ServerOption {
	routes := h.Routes()
	opts := make([]prefab.ServerOption, 0, len(routes))
	for _, route := range routes {
		if route.JSON != nil {
			opts = append(opts, prefab.WithJSONHandler(route.Pattern, route.JSON))
		} else {
			opts = append(opts, prefab.WithHTTPHandlerFunc(route.Pattern, route.HTTP))
		}
	}
	return opts
}

func (h *Handlers) createSession(r *http.Request) (any, error) {
	var req CreateSessionRequest
	if err := h.decode(r, &req); err != nil {
		return nil, err
	}

	create := CreateRequest{Address: req.Address, DestinationName: req.DestinationName}
	if req.Destination != nil {
		dest := req.Destination.coordinate()
		create.Destination = &dest
	}

	session, err := h.manager.Create(r.Context(), create)
	switch {
	case errors.Is(err, ErrInvalidDestination):
		return nil, errors.NewC(err, codes.InvalidArgument)
	case errors.Is(err, geocoding.ErrNotFound):
		return nil, errors.NewC(err, codes.NotFound)
	case err != nil:
		return nil, errors.NewC(err, codes.Unavailable).WithHTTPStatusCode(http.StatusBadGateway)
	}

	return SessionResponse{SessionID: session.ID(), Display: session.Display()}, nil
}

func (h *Handlers) getSession(r *http.Request) (any, error) {
	session, err := h.session(r)
	if err != nil {
		return nil, err
	}
	return SessionResponse{SessionID: session.ID(), Display: session.Display()}, nil
}

func (h *Handlers) endSession(r *http.Request) (any, error) {
	summary, err := h.manager.End(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, errors.NewC(err, codes.NotFound)
	}
	return summary, nil
}

func (h *Handlers) postPosition(r *http.Request) (any, error) {
	source, err := h.manager.Source(r.PathValue("id"))
	if err != nil {
		return nil, errors.NewC(err, codes.NotFound)
	}

	var req PositionRequest
	if err := h.decode(r, &req); err != nil {
		return nil, err
	}
	if req.Error == "" && (req.Latitude == nil || req.Longitude == nil) {
		return nil, errors.NewC("invalid request: lat and lng are required", codes.InvalidArgument)
	}

	receivedAt := h.now()
	if req.Error != "" {
		err = source.Fail(positionError(req.Error))
	} else {
		timestamp := receivedAt
		if req.Timestamp != nil {
			timestamp = *req.Timestamp
		}
		err = source.Push(tracking.Reading{
			Coordinate: geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
			Speed:      req.Speed,
			Timestamp:  timestamp,
			ReceivedAt: receivedAt,
		})
	}

	switch {
	case errors.Is(err, tracking.ErrNoSubscriber):
		return nil, errors.NewC("session is not accepting positions", codes.FailedPrecondition).
			WithHTTPStatusCode(http.StatusConflict)
	case errors.Is(err, tracking.ErrBufferFull):
		return nil, errors.NewC(err, codes.Unavailable)
	case err != nil:
		return nil, errors.NewC(err, codes.Internal)
	}
	return PositionResponse{Accepted: true, ReceivedAt: receivedAt}, nil
}

func positionError(kind string) error {
	switch kind {
	case "denied":
		return tracking.ErrPermissionDenied
	case "timeout":
		return tracking.ErrTimeout
	default:
		return tracking.ErrPositionUnavailable
	}
}

func (h *Handlers) selectRoute(r *http.Request) (any, error) {
	session, err := h.session(r)
	if err != nil {
		return nil, err
	}

	var req SelectRouteRequest
	if err := h.decode(r, &req); err != nil {
		return nil, err
	}

	display, selected := session.SelectRoute(r.Context(), *req.Index)
	return SelectRouteResponse{Selected: selected, Display: display}, nil
}

func (h *Handlers) listRoutes(r *http.Request) (any, error) {
	session, err := h.session(r)
	if err != nil {
		return nil, err
	}
	return RoutesResponse{
		SessionID: session.ID(),
		Selected:  session.Display().SelectedRoute,
		Routes:    session.Options(),
	}, nil
}

func (h *Handlers) routeWeather(r *http.Request) (any, error) {
	session, err := h.session(r)
	if err != nil {
		return nil, err
	}
	if h.weather == nil {
		return nil, errors.NewC("weather is not configured", codes.Unavailable)
	}

	forecast, err := h.weather.ForSession(r.Context(), session)
	if err != nil {
		return nil, errors.NewC(err, codes.Unavailable).WithHTTPStatusCode(http.StatusBadGateway)
	}
	return forecast, nil
}

func (h *Handlers) routesKML(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	display := session.Display()
	doc := kmlexport.Routes(kmlexport.RouteSet{
		DestinationName: display.DestinationName,
		Destination:     display.Destination,
		Routes:          session.Options(),
		Selected:        display.SelectedRoute,
	})
	writeKML(w, r, session.ID()+"-routes.kml", doc)
}

func (h *Handlers) tripKML(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, ended := session.Summary()
	if !ended {
		writeError(w, r, errors.NewC("trip has not ended", codes.FailedPrecondition).
			WithHTTPStatusCode(http.StatusConflict))
		return
	}

	doc := kmlexport.TripSummary(kmlexport.Trip{
		Name:        summary.DestinationName,
		Destination: summary.Destination,
		Path:        summary.Path,
		DistanceKm:  summary.DistanceKm,
		Duration:    summary.Duration,
		Arrived:     summary.Arrived,
	})
	writeKML(w, r, session.ID()+"-trip.kml", doc)
}

func (h *Handlers) session(r *http.Request) (*Session, error) {
	session, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		return nil, errors.NewC(err, codes.NotFound)
	}
	return session, nil
}

// decode reads and validates a JSON body
func (h *Handlers) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.NewC(fmt.Errorf("invalid request body: %w", err), codes.InvalidArgument)
	}
	if err := h.validate.Struct(v); err != nil {
		return errors.NewC(fmt.Errorf("invalid request: %w", err), codes.InvalidArgument)
	}
	return nil
}

// writeError renders err for non-JSON endpoints in the same shape prefab uses for JSON handlers
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logging.Warnw(r.Context(), "KML request failed", "error", err, "req.url", r.URL.String())

	c := int32(errors.Code(err))
	b, ferr := prefab.JSONMarshalOptions.Marshal(&prefab.CustomErrorResponse{
		Code:     c,
		CodeName: code.Code_name[c],
		Message:  err.Error(),
	})
	if ferr != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatusCode(err))
	if _, err := w.Write(b); err != nil {
		logging.Errorw(r.Context(), "Failed to write error response", "error", err)
	}
}

func writeKML(w http.ResponseWriter, r *http.Request, filename string, doc *kml.CompoundElement) {
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := kmlexport.Write(w, doc); err != nil {
		logging.Errorw(r.Context(), "Failed to write KML", "error", err)
	}
}
