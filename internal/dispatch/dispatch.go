// Package dispatch is the call boundary: a registry of typed tools keyed by
// name. Every call is validated against the tool's declared parameters
// (with aliases resolved once, here) before its handler runs, and every
// outcome is returned as an Envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/apperr"
)

// State is a step of the per-call state machine.
type State string

const (
	Received  State = "received"
	Validated State = "validated"
	Executing State = "executing"
	Completed State = "completed"
	Failed    State = "failed"
)

// Span and attribute names.
const (
	SpanTool     = "memoryd.tool"
	AttrToolName = "memoryd.tool.name"
	AttrCallID   = "memoryd.call.id"
	AttrErrKind  = "error.kind"
)

// Handler executes a tool with its decoded arguments.
type Handler[A, R any] func(ctx context.Context, args A) (R, error)

type command interface {
	spec() Spec
	// bind validates raw arguments and returns the handler invocation.
	bind(args map[string]any, v *validator.Validate) (func(context.Context) (any, error), error)
}

type typed[A, R any] struct {
	s Spec
	h Handler[A, R]
}

func (t *typed[A, R]) spec() Spec { return t.s }

func (t *typed[A, R]) bind(args map[string]any, v *validator.Validate) (func(context.Context) (any, error), error) {
	norm, err := t.s.normalize(args)
	if err != nil {
		return nil, err
	}

	var a A
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &a,
		TagName:     "mapstructure",
		ErrorUnused: true,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "%s: create decoder", t.s.Name)
	}
	if err := dec.Decode(norm); err != nil {
		// Declared parameters and the argument struct disagree.
		return nil, apperr.Wrap(apperr.Internal, err, "%s: decode arguments", t.s.Name)
	}

	if isStruct(a) {
		if err := v.Struct(a); err != nil {
			return nil, validationError(t.s.Name, err)
		}
	}
	return func(ctx context.Context) (any, error) {
		return t.h(ctx, a)
	}, nil
}

func isStruct(v any) bool {
	rt := reflect.TypeOf(v)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt != nil && rt.Kind() == reflect.Struct
}

func validationError(tool string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.ParameterMismatch, err, "%s: invalid arguments", tool)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Field()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s (got: %v)", e.Field(), e.Param(), e.Value()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s (got: %v)", e.Field(), e.Param(), e.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", e.Field(), e.Tag()))
		}
	}
	return apperr.New(apperr.ParameterMismatch, "%s: %s", tool, strings.Join(msgs, "; "))
}

// Dispatcher routes calls to registered tools.
type Dispatcher struct {
	mu       sync.RWMutex
	commands map[string]command
	order    []string

	validate *validator.Validate
	tracer   trace.Tracer
	log      *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithTracer sets the tracer; the default comes from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// New creates an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	v := validator.New()
	// Report fields by their parameter names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	d := &Dispatcher{
		commands: map[string]command{},
		validate: v,
		tracer:   otel.Tracer("github.com/rcliao/memoryd/internal/dispatch"),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a tool. A is the argument struct, decoded by its
// mapstructure tags and checked by its validate tags; its fields must cover
// every declared parameter.
func Register[A, R any](d *Dispatcher, spec Spec, h Handler[A, R]) error {
	if err := spec.check(); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("tool %s: nil handler", spec.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.commands[spec.Name]; ok {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	d.commands[spec.Name] = &typed[A, R]{s: spec, h: h}
	d.order = append(d.order, spec.Name)
	return nil
}

// Specs returns the registered tools in registration order.
func (d *Dispatcher) Specs() []Spec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Spec, len(d.order))
	for i, name := range d.order {
		out[i] = d.commands[name].spec()
	}
	return out
}

// Lookup returns the spec of a registered tool.
func (d *Dispatcher) Lookup(name string) (Spec, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.commands[name]
	if !ok {
		return Spec{}, false
	}
	return c.spec(), true
}

type call struct {
	state State
	start time.Time
	log   *zap.Logger
	span  trace.Span
}

func (c *call) to(s State) {
	c.log.Debug("call transition", zap.String("from", string(c.state)), zap.String("to", string(s)))
	c.state = s
}

// Call runs one tool call through Received, Validated, Executing and
// Completed or Failed. It never returns an error: failures are reported in
// the envelope. The handler is not invoked unless validation passes.
func (d *Dispatcher) Call(ctx context.Context, tool string, args map[string]any) Envelope {
	id := uuid.NewString()
	ctx, span := d.tracer.Start(ctx, SpanTool, trace.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.String(AttrCallID, id),
	))
	defer span.End()

	c := &call{
		start: time.Now(),
		log:   d.log.With(zap.String("call_id", id), zap.String("tool", tool)),
		span:  span,
	}
	c.to(Received)

	d.mu.RLock()
	cmd, ok := d.commands[tool]
	d.mu.RUnlock()
	if !ok {
		return c.fail(apperr.New(apperr.NotFound, "unknown tool %q", tool))
	}

	run, err := cmd.bind(args, d.validate)
	if err != nil {
		return c.fail(err)
	}
	c.to(Validated)

	c.to(Executing)
	data, err := execute(ctx, run)
	if err != nil {
		return c.fail(err)
	}

	c.to(Completed)
	span.SetStatus(codes.Ok, "")
	c.log.Info("call completed", zap.Duration("elapsed", time.Since(c.start)))
	return success(data)
}

func execute(ctx context.Context, run func(context.Context) (any, error)) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, apperr.New(apperr.Internal, "handler panicked: %v", r)
		}
	}()
	return run(ctx)
}

func (c *call) fail(err error) Envelope {
	env := failure(err)
	c.to(Failed)

	c.span.RecordError(err)
	c.span.SetStatus(codes.Error, env.Error.Message)
	c.span.SetAttributes(attribute.String(AttrErrKind, string(env.Error.Kind)))

	fields := []zap.Field{
		zap.String("kind", string(env.Error.Kind)),
		zap.Duration("elapsed", time.Since(c.start)),
		zap.Error(err),
	}
	switch env.Error.Kind {
	case apperr.Internal, apperr.SchemaViolation:
		c.log.Error("call failed", fields...)
	default:
		c.log.Warn("call failed", fields...)
	}
	return env
}
