package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-go/leadline/pkg/crm"
	"github.com/vango-go/leadline/pkg/live/channel"
	"github.com/vango-go/leadline/pkg/live/eventlog"
	"github.com/vango-go/leadline/pkg/live/state"
	"github.com/vango-go/leadline/pkg/metrics"
)

// CRM is the backend the tools call.
type CRM interface {
	StartSession(ctx context.Context, args map[string]any) (any, error)
	SaveLead(ctx context.Context, args map[string]any) (any, error)
	PropertyInfo(ctx context.Context, code string) (any, error)
	ContactRefusal(ctx context.Context, args map[string]any) (any, error)
}

type Config struct {
	Log     *eventlog.Log
	State   *state.Store
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger

	// Timeout bounds a single CRM round trip. Zero means no limit.
	Timeout time.Duration
}

// Dispatcher executes tool calls against the CRM. Every call produces a
// response, including unknown tools and failed requests.
type Dispatcher struct {
	crm     CRM
	log     *eventlog.Log
	state   *state.Store
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	timeout time.Duration
}

func NewDispatcher(c CRM, cfg Config) *Dispatcher {
	d := &Dispatcher{
		crm:     c,
		log:     cfg.Log,
		state:   cfg.State,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
	}
	if d.log == nil {
		d.log = eventlog.New(cfg.Logger)
	}
	if d.state == nil {
		d.state = state.NewStore("")
	}
	if d.tracer == nil {
		d.tracer = noop.NewTracerProvider().Tracer("leadline/tools")
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

var unknownResult = map[string]any{"error": "Unknown error"}

// Dispatch runs one call and returns the response to send back, tagged with
// the call id.
func (d *Dispatcher) Dispatch(ctx context.Context, call channel.FunctionCall) channel.ToolResponse {
	ctx, span := d.tracer.Start(ctx, "tool "+call.Name,
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		))
	defer span.End()

	d.log.Append(eventlog.KindToolCall, "tool call: "+call.Name, call.Args)

	if !Known(call.Name) {
		d.logger.Warn("unknown tool requested", "tool", call.Name)
		d.metrics.RecordToolCall(call.Name, "unknown", 0)
		return channel.ToolResponse{ID: call.ID, Name: call.Name, Result: unknownResult}
	}

	start := time.Now()
	result, err := d.run(ctx, call)
	status := "ok"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.log.Error(fmt.Sprintf("tool %s failed", call.Name), map[string]any{"message": err.Error()})
		result = map[string]any{"error": err.Error(), "status": "failed"}
	}
	d.metrics.RecordToolCall(call.Name, status, time.Since(start))

	return channel.ToolResponse{ID: call.ID, Name: call.Name, Result: result}
}

// Known reports whether name is one of the declared tools.
func Known(name string) bool {
	switch name {
	case StartLeadSession, SaveLeadData, GetPropertyInfo, HandleContactRefusal:
		return true
	}
	return false
}

func (d *Dispatcher) run(ctx context.Context, call channel.FunctionCall) (any, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	switch call.Name {
	case StartLeadSession:
		d.log.Info("calling CRM: " + StartLeadSession)
		result, err := d.crm.StartSession(ctx, args)
		if err != nil {
			return nil, err
		}
		id := sessionID(result)
		if id != "" {
			d.state.SetSessionID(id)
		}
		d.log.ToolResponse("CRM session started: "+id, result)
		return result, nil

	case SaveLeadData:
		d.log.Info("calling CRM: " + SaveLeadData)
		if raw, ok := args["lead_data"].(map[string]any); ok {
			d.state.MergeLead(crm.LeadDataFromArgs(raw))
		}
		result, err := d.crm.SaveLead(ctx, args)
		if err != nil {
			return nil, err
		}
		d.log.ToolResponse("lead data saved", result)
		return result, nil

	case GetPropertyInfo:
		code, _ := args["property_code"].(string)
		d.log.Info(fmt.Sprintf("calling CRM: %s for %s", GetPropertyInfo, code))
		result, err := d.crm.PropertyInfo(ctx, code)
		if err != nil {
			return nil, err
		}
		d.log.ToolResponse("property info received", result)
		return result, nil

	case HandleContactRefusal:
		d.log.Info("calling CRM: " + HandleContactRefusal)
		result, err := d.crm.ContactRefusal(ctx, args)
		if err != nil {
			return nil, err
		}
		d.log.ToolResponse("contact refusal logged", result)
		return result, nil
	}
	return nil, fmt.Errorf("unknown tool %q", call.Name)
}

func sessionID(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	switch v := m["session_id"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprint(int64(v))
	default:
		return ""
	}
}
