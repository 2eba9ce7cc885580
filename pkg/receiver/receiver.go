package receiver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/stleox/tracepost/pkg/tracer"
	attr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	tr "go.opentelemetry.io/otel/trace"
)

const (
	ServerSpanName   = "consumer-top-level"
	InternalSpanName = "consumer-internal-work"

	HeaderRequestID = "X-Request-Id"

	instrumentationName = "github.com/stleox/tracepost/pkg/receiver"
)

// Received is what the receiver remembers about one incoming request.
type Received struct {
	TraceID      string    `json:"trace_id"`
	ParentSpanID string    `json:"parent_span_id,omitempty"`
	SpanID       string    `json:"span_id"`
	Traceparent  string    `json:"traceparent,omitempty"`
	RequestID    string    `json:"request_id"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Receiver echoes requests back inside a server span that continues
// the caller's trace.
type Receiver struct {
	tracer     tr.Tracer
	propagator propagation.TextMapPropagator

	// cache: TraceID -> last request seen for it
	traces *lru.Cache[string, *Received]

	router *mux.Router
}

func NewReceiver(tm *tracer.TracerManager, cacheSize int) (*Receiver, error) {
	traces, err := lru.New[string, *Received](cacheSize)
	if err != nil {
		return nil, err
	}
	rc := &Receiver{
		tracer:     tm.Tracer(instrumentationName),
		propagator: tm.Propagator(),
		traces:     traces,
		router:     mux.NewRouter(),
	}
	rc.router.HandleFunc("/traces/{traceID}", rc.getTrace).Methods(http.MethodGet)
	rc.router.PathPrefix("/").HandlerFunc(rc.echo)
	return rc, nil
}

func (rc *Receiver) Handler() http.Handler {
	return rc.router
}

// Lookup returns the last request recorded for traceID.
func (rc *Receiver) Lookup(traceID string) (*Received, bool) {
	return rc.traces.Get(traceID)
}

func (rc *Receiver) echo(w http.ResponseWriter, r *http.Request) {
	ctx := rc.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	parent := tr.SpanContextFromContext(ctx)

	ctx, span := rc.tracer.Start(ctx, ServerSpanName,
		tr.WithSpanKind(tr.SpanKindServer),
		tr.WithAttributes(
			semconv.HTTPMethodKey.String(r.Method),
			attr.String("http.target", r.URL.Path),
		))
	defer span.End()

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, requestID)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		http.Error(w, "couldn't read request body", http.StatusBadRequest)
		return
	}

	_, work := rc.tracer.Start(ctx, InternalSpanName, tr.WithSpanKind(tr.SpanKindInternal))
	received := &Received{
		TraceID:     span.SpanContext().TraceID().String(),
		SpanID:      span.SpanContext().SpanID().String(),
		Traceparent: r.Header.Get(tracer.HeaderTraceparent),
		RequestID:   requestID,
		Method:      r.Method,
		Path:        r.URL.Path,
		ReceivedAt:  time.Now(),
	}
	if parent.IsValid() {
		received.ParentSpanID = parent.SpanID().String()
	}
	rc.traces.Add(received.TraceID, received)
	work.End()

	logrus.WithFields(logrus.Fields{
		"trace_id":   received.TraceID,
		"request_id": requestID,
		"continued":  parent.IsValid(),
	}).Debug("tracepost received request")

	contentType := r.Header.Get(tracer.HeaderContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set(tracer.HeaderContentType, contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logrus.WithError(err).Warn("tracepost couldn't write echo response")
	}
	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(http.StatusOK))
}

func (rc *Receiver) getTrace(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["traceID"]
	received, ok := rc.traces.Get(traceID)
	if !ok {
		http.Error(w, "trace not found", http.StatusNotFound)
		return
	}
	w.Header().Set(tracer.HeaderContentType, tracer.ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(received); err != nil {
		logrus.WithError(err).Warn("tracepost couldn't encode trace")
	}
}
