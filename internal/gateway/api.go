package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/ridergate/internal/command"
	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	httpmw "github.com/autopeer-io/ridergate/internal/pkg/middleware/http"
	"github.com/autopeer-io/ridergate/internal/protocol"
	"github.com/autopeer-io/ridergate/internal/shutdown"
	"github.com/autopeer-io/ridergate/internal/state"
	"github.com/autopeer-io/ridergate/internal/transport"
	"github.com/autopeer-io/ridergate/pkg/log"
	"github.com/autopeer-io/ridergate/pkg/mqtt/topic"
	"github.com/autopeer-io/ridergate/pkg/options"
)

const maxMovement = 100

var errBadRequest = errors.New("bad request")

// Commander is the command surface exposed over HTTP.
type Commander interface {
	Movement(ctx context.Context, x, y int) error
	Settings(ctx context.Context, action string, value any) error
	Camera(ctx context.Context, action string) error
	System(ctx context.Context, action protocol.SystemAction) error
	RequestBattery(ctx context.Context) error
	RequestImageCapture(ctx context.Context, res protocol.Resolution) (string, error)
	Pending() (command.PendingCapture, bool)
}

// Link is the broker session as seen by the API.
type Link interface {
	IsConnected() bool
	State() string
	Broker() string
	ClientID() string
	SetBroker(brokerURL string)
	GracefulDisconnect()
	Reconnect(ctx context.Context) error
}

// BrokerPersister saves a broker change for the next start.
type BrokerPersister func(host string, port int) error

// APIConfig wires the API to the rest of the gateway.
type APIConfig struct {
	HttpOptions *options.HttpOptions
	MqttOptions *options.MqttOptions
	Store       *state.Store
	Commands    Commander
	Link        Link
	Table       *topic.Table
	Events      http.Handler
	Trigger     func(shutdown.Reason) bool
	Persist     BrokerPersister
	Logger      log.Logger
}

// API is the local control surface.
type API struct {
	cfg    APIConfig
	logger log.Logger
	server *http.Server
}

// NewAPI builds the router and server.
func NewAPI(cfg APIConfig) *API {
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("api")
	}
	a := &API{cfg: cfg, logger: cfg.Logger}
	a.server = &http.Server{
		Addr:              cfg.HttpOptions.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a
}

// Handler returns the routed handler.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(httpmw.RequestID, httpmw.Logging(a.logger), httpmw.Timeout(a.cfg.HttpOptions.Timeout))

	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{Registry: metrics.Registry})).
		Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/state", a.getState).Methods(http.MethodGet)
	v1.HandleFunc("/topics", a.getTopics).Methods(http.MethodGet)
	v1.HandleFunc("/movement", a.postMovement).Methods(http.MethodPost)
	v1.HandleFunc("/settings", a.postSettings).Methods(http.MethodPost)
	v1.HandleFunc("/camera", a.postCamera).Methods(http.MethodPost)
	v1.HandleFunc("/system", a.postSystem).Methods(http.MethodPost)
	v1.HandleFunc("/battery/request", a.postBatteryRequest).Methods(http.MethodPost)
	v1.HandleFunc("/images", a.postImage).Methods(http.MethodPost)
	v1.HandleFunc("/connection/reconnect", a.postReconnect).Methods(http.MethodPost)
	v1.HandleFunc("/connection/disconnect", a.postDisconnect).Methods(http.MethodPost)
	v1.HandleFunc("/connection/broker", a.putBroker).Methods(http.MethodPut)
	v1.HandleFunc("/shutdown", a.postShutdown).Methods(http.MethodPost)
	if a.cfg.Events != nil {
		v1.Handle("/events", a.cfg.Events).Methods(http.MethodGet)
	}

	return r
}

// Start serves until ctx is done or Stop is called.
func (a *API) Start(ctx context.Context) error {
	ln, err := net.Listen(a.cfg.HttpOptions.Network, a.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}
	a.logger.Info("Starting HTTP API", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HttpOptions.ShutdownTimeout)
		defer cancel()
		return a.Stop(shutdownCtx)
	}
}

// Stop shuts the server down, dropping connections still open at the deadline.
func (a *API) Stop(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		_ = a.server.Close()
		return err
	}
	return nil
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) readyz(w http.ResponseWriter, _ *http.Request) {
	if !a.cfg.Link.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not connected"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type stateResponse struct {
	state.Snapshot
	Features       state.Features          `json:"features"`
	Broker         string                  `json:"broker"`
	ClientID       string                  `json:"client_id,omitempty"`
	TransportState string                  `json:"transport_state"`
	PendingCapture *command.PendingCapture `json:"pending_capture,omitempty"`
}

func (a *API) getState(w http.ResponseWriter, _ *http.Request) {
	resp := stateResponse{
		Features:       a.cfg.Store.FeatureStatus(),
		Snapshot:       a.cfg.Store.Snapshot(),
		Broker:         a.cfg.Link.Broker(),
		ClientID:       a.cfg.Link.ClientID(),
		TransportState: a.cfg.Link.State(),
	}
	if p, ok := a.cfg.Commands.Pending(); ok {
		resp.PendingCapture = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg.Table.Entries())
}

type movementRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (a *API) postMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !a.decode(w, r, &req) {
		return
	}
	if abs(req.X) > maxMovement || abs(req.Y) > maxMovement {
		a.fail(w, r, fmt.Errorf("%w: x and y must be within -%d..%d", errBadRequest, maxMovement, maxMovement))
		return
	}
	a.sent(w, r, a.cfg.Commands.Movement(r.Context(), req.X, req.Y))
}

type actionRequest struct {
	Action string `json:"action"`
	Value  any    `json:"value,omitempty"`
}

func (a *API) postSettings(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.sent(w, r, a.cfg.Commands.Settings(r.Context(), req.Action, req.Value))
}

func (a *API) postCamera(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.sent(w, r, a.cfg.Commands.Camera(r.Context(), req.Action))
}

func (a *API) postSystem(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decode(w, r, &req) {
		return
	}
	action, err := protocol.ParseSystemAction(req.Action)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.sent(w, r, a.cfg.Commands.System(r.Context(), action))
}

func (a *API) postBatteryRequest(w http.ResponseWriter, r *http.Request) {
	a.sent(w, r, a.cfg.Commands.RequestBattery(r.Context()))
}

type imageRequest struct {
	Resolution string `json:"resolution"`
}

type imageResponse struct {
	RequestID string `json:"request_id"`
}

func (a *API) postImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	res, err := protocol.ParseResolution(req.Resolution)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := a.cfg.Commands.RequestImageCapture(r.Context(), res)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, imageResponse{RequestID: id})
}

func (a *API) postReconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.cfg.Link.Reconnect(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusBody{Status: a.cfg.Link.State()})
}

func (a *API) postDisconnect(w http.ResponseWriter, _ *http.Request) {
	a.cfg.Link.GracefulDisconnect()
	writeJSON(w, http.StatusOK, statusBody{Status: a.cfg.Link.State()})
}

type brokerRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a *API) putBroker(w http.ResponseWriter, r *http.Request) {
	var req brokerRequest
	if !a.decode(w, r, &req) {
		return
	}

	next := *a.cfg.MqttOptions
	next.Host = req.Host
	if req.Port != 0 {
		next.Port = req.Port
	}
	if errs := next.Validate(); len(errs) > 0 {
		a.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, errors.Join(errs...)))
		return
	}

	if a.cfg.Persist != nil {
		if err := a.cfg.Persist(next.Host, next.Port); err != nil {
			a.logger.Warn("Broker change not persisted", "error", err)
		}
	}
	*a.cfg.MqttOptions = next

	url := next.BrokerURL()
	a.logger.Info("Switching broker", "broker", url)
	a.cfg.Link.SetBroker(url)
	if err := a.cfg.Link.Reconnect(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusBody{Status: a.cfg.Link.State(), Broker: url})
}

func (a *API) postShutdown(w http.ResponseWriter, _ *http.Request) {
	started := a.cfg.Trigger(shutdown.ReasonWindowClose)
	writeJSON(w, http.StatusAccepted, shutdownBody{Started: started})
}

type errorBody struct {
	Error string `json:"error"`
}

type statusBody struct {
	Status string `json:"status"`
	Broker string `json:"broker,omitempty"`
}

type shutdownBody struct {
	Started bool `json:"started"`
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

// sent answers a command: 202 once handed to the network layer.
func (a *API) sent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusBody{Status: "sent"})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusServiceUnavailable {
		msg = "not connected"
	}
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		a.logger.Error(err, "API request failed", "path", r.URL.Path, "requestID", httpmw.RequestIDFrom(r.Context()))
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, transport.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadRequest),
		errors.Is(err, command.ErrUnknownAction),
		errors.Is(err, protocol.ErrUnknownValue):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
