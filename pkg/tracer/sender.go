package tracer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	attr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	tr "go.opentelemetry.io/otel/trace"
)

// ErrTransport wraps every failure that kept the request from completing:
// DNS, refused connection, timeout, TLS or an unusable URL.
// An HTTP error status is not a transport failure.
var ErrTransport = errors.New("transport failure")

const (
	TransactionName = "client-top-level"
	SpanName        = "client-request"
	SpanType        = "app"
	SpanSubtype     = "http"

	HeaderTraceparent = "traceparent"
	HeaderContentType = "Content-Type"
	ContentTypeJSON   = "application/json"

	instrumentationName = "github.com/stleox/tracepost/pkg/tracer"
)

// Payload is the body every run posts.
var Payload = map[string]string{"name": "John"}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder keeps a record of finished runs.
type Recorder interface {
	Record(res *Result)
}

// Result describes one finished run.
type Result struct {
	Target      string
	TraceID     string
	SpanID      string
	Traceparent string

	// StatusCode and Body are set only when the transport succeeded.
	StatusCode int
	Body       []byte

	// Err wraps ErrTransport.
	Err error

	StartTime time.Time
	EndTime   time.Time
}

func (res *Result) Failed() bool {
	return res.Err != nil
}

// Sender posts the payload to a target inside a transaction and a client span.
type Sender struct {
	tracer     tr.Tracer
	propagator propagation.TextMapPropagator
	client     Doer
	recorder   Recorder

	out    io.Writer
	errOut io.Writer

	transportFatal bool
}

type SenderOption func(*Sender)

func WithClient(client Doer) SenderOption {
	return func(s *Sender) { s.client = client }
}

// WithTimeout uses a fresh *http.Client bounded by d. Zero means no timeout.
func WithTimeout(d time.Duration) SenderOption {
	return func(s *Sender) { s.client = &http.Client{Timeout: d} }
}

func WithOutput(out, errOut io.Writer) SenderOption {
	return func(s *Sender) {
		s.out = out
		s.errOut = errOut
	}
}

func WithRecorder(recorder Recorder) SenderOption {
	return func(s *Sender) { s.recorder = recorder }
}

// WithTransportFailureFatal makes Run return the transport failure
// instead of only reporting it.
func WithTransportFailureFatal(fatal bool) SenderOption {
	return func(s *Sender) { s.transportFatal = fatal }
}

// NewSender builds a Sender emitting spans through tm. Without WithClient or
// WithTimeout it sends with http.DefaultClient, which has no timeout.
func NewSender(tm *TracerManager, opts ...SenderOption) *Sender {
	s := &Sender{
		tracer:     tm.Tracer(instrumentationName),
		propagator: tm.Propagator(),
		client:     http.DefaultClient,
		out:        os.Stdout,
		errOut:     os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sends one request to targetURL and reports the outcome.
// The span is ended before the transaction on every path.
// The returned error is non-nil only for a transport failure under the fatal policy.
func (s *Sender) Run(ctx context.Context, targetURL string) (*Result, error) {
	res := &Result{Target: targetURL, StartTime: time.Now()}

	ctx, transaction := s.tracer.Start(ctx, TransactionName)
	defer transaction.End()

	ctx, span := s.tracer.Start(ctx, SpanName,
		tr.WithSpanKind(tr.SpanKindClient),
		tr.WithAttributes(
			attr.String("span.type", SpanType),
			attr.String("span.subtype", SpanSubtype),
			semconv.HTTPMethodKey.String(http.MethodPost),
			attr.String("http.url", targetURL),
		))
	defer span.End()

	res.TraceID = span.SpanContext().TraceID().String()
	res.SpanID = span.SpanContext().SpanID().String()

	s.send(ctx, span, res)
	res.EndTime = time.Now()

	s.report(res)
	if s.recorder != nil {
		s.recorder.Record(res)
	}

	if res.Failed() {
		transaction.SetStatus(codes.Error, res.Err.Error())
		if s.transportFatal {
			return res, res.Err
		}
	}
	return res, nil
}

func (s *Sender) send(ctx context.Context, span tr.Span, res *Result) {
	body, err := json.Marshal(Payload)
	if err != nil {
		s.fail(span, res, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, res.Target, bytes.NewReader(body))
	if err != nil {
		s.fail(span, res, err)
		return
	}
	s.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set(HeaderContentType, ContentTypeJSON)
	res.Traceparent = req.Header.Get(HeaderTraceparent)

	logrus.WithFields(logrus.Fields{
		"target":      res.Target,
		"traceparent": res.Traceparent,
	}).Debug("tracepost sent request")

	resp, err := s.client.Do(req)
	if err != nil {
		s.fail(span, res, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.fail(span, res, fmt.Errorf("reading response body: %w", err))
		return
	}
	res.StatusCode = resp.StatusCode
	res.Body = respBody
	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(resp.StatusCode))
}

func (s *Sender) fail(span tr.Span, res *Result, err error) {
	res.Err = fmt.Errorf("%w: %w", ErrTransport, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *Sender) report(res *Result) {
	if res.Failed() {
		fmt.Fprintln(s.errOut, res.Err)
		logrus.WithError(res.Err).WithField("target", res.Target).Error("tracepost couldn't send request")
		return
	}
	fmt.Fprintf(s.out, "Status: %d\n", res.StatusCode)
	fmt.Fprintf(s.out, "%s\n", res.Body)
	logrus.WithFields(logrus.Fields{
		"target":   res.Target,
		"status":   res.StatusCode,
		"trace_id": res.TraceID,
	}).Debug("tracepost got response")
}
