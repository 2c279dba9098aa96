package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const rpcTracerName = "acpadapter-rpc"

// StartCall starts a client span for an outbound protocol request. The caller
// ends it with EndCall.
func StartCall(ctx context.Context, method, agentID, sessionID string) (context.Context, trace.Span) {
	ctx, span := Tracer(rpcTracerName).Start(ctx, "acp."+method,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
		attribute.String("agent_id", agentID),
	)
	if sessionID != "" {
		span.SetAttributes(attribute.String("session_id", sessionID))
	}
	return ctx, span
}

// EndCall records err, if any, and ends the span.
func EndCall(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartInbound starts a server span for a request the agent sent us.
func StartInbound(ctx context.Context, method, agentID string) (context.Context, trace.Span) {
	ctx, span := Tracer(rpcTracerName).Start(ctx, "acp.inbound."+method,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
		attribute.String("agent_id", agentID),
	)
	return ctx, span
}

// RecordUpdate emits a short span for one session/update notification.
func RecordUpdate(ctx context.Context, kind, sessionID string) {
	_, span := Tracer(rpcTracerName).Start(ctx, "acp.update."+kind,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("update_kind", kind),
		attribute.String("session_id", sessionID),
	)
	span.End()
}
