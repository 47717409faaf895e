package restyutil

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"billfetch/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentOutput receives a rendered request/response pair for every completed request.
type InstrumentOutput interface {
	Write(id string, contents string)
}

type messageIdKey struct{}

type instrumentCtx struct {
	output    InstrumentOutput
	tracer    trace.Tracer
	tel       telemetry.API
	idcounter *atomic.Uint64
}

// InstrumentClient traces every request made by `client` and dumps each exchange to `output`.
// `tracer` can be nil, it will default to a library name of "resty".
// `output` can also be nil, if it is, then the function is a no-op.
func InstrumentClient(client *resty.Client, tracer trace.Tracer, output InstrumentOutput, tel telemetry.API) {
	if output == nil {
		return
	}
	if tracer == nil {
		tracer = otel.Tracer("resty")
	}

	i := instrumentCtx{
		output:    output,
		tracer:    tracer,
		tel:       telemetry.NewScopedAPI("resty", tel),
		idcounter: &atomic.Uint64{},
	}
	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

func (i instrumentCtx) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx, _ := i.tracer.Start(req.Context(), fmt.Sprintf("http %s", req.Method))

	messageId := strconv.FormatUint(i.idcounter.Add(1), 10)
	ctx = context.WithValue(ctx, messageIdKey{}, messageId)
	i.tel.ReportDebug("start request", "method", req.Method, "url", req.URL, "message_id", messageId)

	req.SetContext(ctx)
	return nil
}

func (i instrumentCtx) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	ctx := res.Request.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()

	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(res.Request.Method),
		semconv.URLFull(res.Request.URL),
		semconv.HTTPResponseStatusCode(res.StatusCode()),
	)

	messageId, _ := ctx.Value(messageIdKey{}).(string)
	i.output.Write(messageId, formatHttpMessage(res))
	i.tel.ReportDebug(
		"request finished",
		"status", res.StatusCode(),
		"url", res.Request.URL,
		"message_id", messageId,
	)
	return nil
}

func (i instrumentCtx) onError(req *resty.Request, err error) {
	span := trace.SpanFromContext(req.Context())
	defer span.End()

	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(req.Method),
		semconv.URLFull(req.URL),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "request failed")

	messageId, _ := req.Context().Value(messageIdKey{}).(string)
	i.tel.ReportDebug("request failed", "url", req.URL, "err", err, "message_id", messageId)
}
