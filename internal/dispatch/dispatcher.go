// Package dispatch runs the request pipeline: admission, defaults, output
// buffering, route resolution, lifecycle events, handler invocation, and
// response finalization. One Dispatcher serves every request; all per-request
// state lives in locals, so the pipeline is safe under the one goroutine per
// request model of net/http.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"app_kernel/internal/admission"
	"app_kernel/internal/controller"
	"app_kernel/internal/events"
	"app_kernel/internal/observability"
	"app_kernel/internal/request"
	"app_kernel/internal/response"
	"app_kernel/internal/router"
)

// Config wires a Dispatcher. Routes is the only required collaborator; every
// other field degrades to a safe default (no gate admits everything, no bus
// fires nothing, nil metrics record nothing).
type Config struct {
	// Logger for structured logging (optional, uses slog.Default if nil).
	Logger *slog.Logger

	// Routes is the pattern route table. Required.
	Routes *router.Table

	// Services is the name-based dispatch registry, consulted when pattern
	// resolution finds no path match. Optional.
	Services *router.Servicer

	// Gate holds the admission policy. Nil admits every request.
	Gate *admission.Gate

	// Events receives the lifecycle hooks (before, after, output). Optional.
	Events *events.Bus

	// Metrics records pipeline observations. Optional; nil is safe.
	Metrics *observability.PipelineMetrics

	// Defaults are stamped onto every fresh response before the handler runs.
	Defaults response.Defaults

	// Debug includes error details and panic stacks in rendered error
	// bodies. Keep it off outside development.
	Debug bool
}

// Dispatcher resolves inbound requests to handlers and owns the pipeline
// state machine:
//
//	Start → AdmissionChecked → DefaultsApplied → BufferOpened →
//	RouteResolved → LifecycleBeforeFired → HandlerInvoked →
//	LifecycleAfterFired → BufferClosed → Sent → End
//
// with the terminal branches Rejected (admission), ResolutionFailed (404/405)
// and HandlerFailed (error or panic, rendered as a 500-class response).
// Exactly one response is sent per request, whichever branch is taken.
//
// The after event fires on the handler-failure branch too, so listeners can
// rely on it as a finally hook around handler execution. It never fires for
// rejected or unresolved requests, because no handler ran.
type Dispatcher struct {
	logger   *slog.Logger
	routes   *router.Table
	services *router.Servicer
	gate     *admission.Gate
	events   *events.Bus
	metrics  *observability.PipelineMetrics
	defaults response.Defaults
	debug    bool
}

// New builds a Dispatcher from config.
func New(config *Config) (*Dispatcher, error) {
	if config == nil || config.Routes == nil {
		return nil, errors.New("dispatch: config with a route table is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := config.Events
	if bus == nil {
		bus = events.NewBus()
	}
	return &Dispatcher{
		logger:   logger,
		routes:   config.Routes,
		services: config.Services,
		gate:     config.Gate,
		events:   bus,
		metrics:  config.Metrics,
		defaults: config.Defaults,
		debug:    config.Debug,
	}, nil
}

// pipeline is the per-request working set.
type pipeline struct {
	state   State
	snap    *request.Snapshot
	resp    *response.State
	buf     *response.Controller
	ctx     *controller.Context
	route   string
	outcome string
	logger  *slog.Logger
}

func (p *pipeline) advance(next State) {
	p.state = next
	p.logger.Debug("pipeline state", "state", next.String())
}

// ServeHTTP runs one request through the pipeline. It implements
// http.Handler so the kernel can sit behind any net/http server and
// middleware chain.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	snap, err := request.Capture(r)
	if err != nil {
		// The transport request could not even be snapshotted; answer
		// before any pipeline state exists.
		d.logger.Warn("request capture failed", "method", r.Method, "path", r.URL.Path, "error", err)
		d.sendBare(w, http.StatusBadRequest)
		d.metrics.ObserveRequest(strings.ToUpper(r.Method), "invalid", http.StatusBadRequest, time.Since(started))
		return
	}

	p := &pipeline{
		state:  StateStart,
		snap:   snap,
		route:  "unmatched",
		logger: d.logger.With("request_id", snap.ID()),
	}
	p.advance(StateStart)

	// Admission runs before any handler state is touched.
	if d.gate != nil {
		if v := d.gate.Check(snap); !v.Pass() {
			p.state = StateRejected
			p.outcome = "rejected"
			d.metrics.AdmissionRejected(v.Rule)
			d.sendBare(w, v.Code)
			d.complete(p, v.Code, started)
			return
		}
	}
	p.advance(StateAdmissionChecked)

	p.resp = response.New(d.defaults)
	p.advance(StateDefaultsApplied)

	p.buf = response.NewController(p.resp, d.transform())
	p.buf.Acquire()
	p.advance(StateBufferOpened)

	p.ctx = controller.NewContext(snap, p.resp, p.buf, p.logger)
	p.ctx.Ctx = r.Context()

	action, resolved := d.resolve(p)
	if !resolved {
		d.finish(p, w, started)
		return
	}
	p.advance(StateRouteResolved)

	d.events.Fire(events.Before, p.ctx)
	p.advance(StateLifecycleBeforeFired)
	p.outcome = "handled"

	body, handlerErr := d.invoke(action, p.ctx)
	p.advance(StateHandlerInvoked)

	// The after event brackets handler execution on success and failure
	// alike; rejection and resolution failures never reach it.
	d.events.Fire(events.After, p.ctx)
	p.advance(StateLifecycleAfterFired)

	if handlerErr != nil {
		p.state = StateHandlerFailed
		p.outcome = "handler_failed"
		d.renderFailure(p, handlerErr)
		d.finish(p, w, started)
		return
	}

	rendered, bodySet, renderErr := p.ctx.RenderBody(body)
	if renderErr != nil {
		p.state = StateHandlerFailed
		p.outcome = "handler_failed"
		d.renderFailure(p, renderErr)
		d.finish(p, w, started)
		return
	}

	if leaked := p.buf.Depth() - 1; leaked > 0 {
		p.logger.Warn("handler leaked buffer scopes", "scopes", leaked, "route", p.route)
		d.metrics.ScopesReclaimed(leaked)
	}
	if err := p.buf.End(rendered, bodySet, false); err != nil {
		p.logger.Error("buffer reconciliation failed", "error", err)
	}
	d.finish(p, w, started)
}

// resolve finds the handler for the snapshot: the pattern table first, then
// the service registry for the first path segment. A false return means the
// pipeline already moved to a terminal resolution-failure state and the
// response status is set.
func (d *Dispatcher) resolve(p *pipeline) (controller.Action, bool) {
	match, err := d.routes.Resolve(p.snap.Method(), p.snap.Path())
	if err == nil {
		p.route = match.Route.Name
		p.ctx.Params = match.Params
		p.ctx.Route = p.route
		d.metrics.ResolutionRecorded(observability.ResolutionRoute)
		return match.Route.Handler, true
	}

	var notAllowed *router.MethodNotAllowedError
	if errors.As(err, &notAllowed) {
		p.state = StateResolutionFailed
		p.outcome = "method_not_allowed"
		d.metrics.ResolutionRecorded(observability.ResolutionMethodNotAllowed)
		p.resp.SetHeader("Allow", strings.Join(notAllowed.Allowed, ", "))
		p.resp.SetStatus(http.StatusMethodNotAllowed)
		return nil, false
	}

	// No route matched the path; try the first segment as a service name.
	if d.services != nil {
		if name, args, ok := splitServicePath(p.snap.Path()); ok {
			if factory, serr := d.services.Resolve(name); serr == nil {
				p.route = "service:" + strings.ToLower(name)
				p.ctx.Args = args
				p.ctx.Route = p.route
				d.metrics.ResolutionRecorded(observability.ResolutionService)
				svc := factory()
				return svc.Serve, true
			}
		}
	}

	p.state = StateResolutionFailed
	p.outcome = "not_found"
	d.metrics.ResolutionRecorded(observability.ResolutionNotFound)
	p.resp.SetStatus(http.StatusNotFound)
	return nil, false
}

// invoke runs the handler, converting a panic into a *PanicError so the
// failure is captured exactly once at this boundary and never crashes the
// process.
func (d *Dispatcher) invoke(action controller.Action, ctx *controller.Context) (body any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.metrics.PanicRecovered()
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return action(ctx)
}

// renderFailure logs a handler failure and replaces the response body with a
// minimal error document. The status is forced to 500 unless the handler
// already recorded an error status of its own.
func (d *Dispatcher) renderFailure(p *pipeline, handlerErr error) {
	var panicErr *PanicError
	if errors.As(handlerErr, &panicErr) {
		p.logger.Error("handler panicked",
			"route", p.route,
			"method", p.snap.Method(),
			"path", p.snap.Path(),
			"panic", fmt.Sprintf("%v", panicErr.Value),
			"stack", string(panicErr.Stack),
		)
	} else {
		p.logger.Error("handler failed",
			"route", p.route,
			"method", p.snap.Method(),
			"path", p.snap.Path(),
			"error", handlerErr,
		)
	}

	if p.resp.Status() < http.StatusBadRequest {
		p.resp.SetStatus(http.StatusInternalServerError)
	}
	p.resp.SetContentType("application/json")

	doc := map[string]any{
		"error":      http.StatusText(p.resp.Status()),
		"request_id": p.snap.ID(),
	}
	if d.debug {
		doc["detail"] = handlerErr.Error()
		if panicErr != nil {
			doc["stack"] = string(panicErr.Stack)
		}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		body = []byte(`{"error":"Internal Server Error"}`)
	}

	if leaked := p.buf.Depth() - 1; leaked > 0 {
		d.metrics.ScopesReclaimed(leaked)
	}
	if err := p.buf.End(body, true, true); err != nil {
		p.logger.Error("buffer reconciliation failed on error path", "error", err)
	}
}

// finish closes whatever is still open and emits the response exactly once.
func (d *Dispatcher) finish(p *pipeline, w http.ResponseWriter, started time.Time) {
	if p.buf != nil && !p.buf.Ended() {
		// Terminal resolution failures reach here with buffered output
		// (there should be none) still pending; discard it by ending with
		// an explicit empty body.
		if err := p.buf.End(nil, true, true); err != nil {
			p.logger.Error("buffer reconciliation failed", "error", err)
		}
	}
	if !p.state.Failed() {
		p.advance(StateBufferClosed)
	}

	if err := p.resp.Finalize(w); err != nil {
		if errors.Is(err, response.ErrAlreadySent) {
			p.logger.Error("response finalized twice", "route", p.route)
		} else {
			p.logger.Error("response emission failed", "error", err)
		}
		return
	}
	if !p.state.Failed() {
		p.advance(StateSent)
	}

	d.complete(p, p.resp.Status(), started)
}

// complete writes the one completion line every request gets and records the
// request metrics. The log level follows the response status.
func (d *Dispatcher) complete(p *pipeline, status int, started time.Time) {
	if !p.state.Failed() {
		p.advance(StateEnd)
	}
	duration := time.Since(started)
	d.metrics.ObserveRequest(p.snap.Method(), p.route, status, duration)

	attrs := []any{
		"method", p.snap.Method(),
		"path", p.snap.Path(),
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"route", p.route,
		"outcome", p.outcome,
		"state", p.state.String(),
	}
	switch {
	case status >= http.StatusInternalServerError:
		p.logger.Error("request completed", attrs...)
	case status >= http.StatusBadRequest:
		p.logger.Warn("request completed", attrs...)
	default:
		p.logger.Info("request completed", attrs...)
	}
}

// sendBare emits a header-only response outside the buffered pipeline, used
// for rejections and capture failures where no handler state exists yet.
func (d *Dispatcher) sendBare(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

// transform adapts the output lifecycle event into the buffer controller's
// body hook. Listeners receive the reconciled body and their return value
// replaces it verbatim; returning anything but bytes or a string leaves the
// body untouched.
func (d *Dispatcher) transform() response.TransformFunc {
	if !d.events.Has(events.Output) {
		return nil
	}
	return func(body []byte) []byte {
		switch out := d.events.Fire(events.Output, body).(type) {
		case []byte:
			return out
		case string:
			return []byte(out)
		default:
			return body
		}
	}
}

// splitServicePath breaks a path into a candidate service name and the
// remaining segments, which become the service's positional arguments.
func splitServicePath(path string) (name string, args []string, ok bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", nil, false
	}
	return segments[0], segments[1:], true
}
