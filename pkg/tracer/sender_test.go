package tracer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stleox/tracepost/pkg/config"
	r "github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tr "go.opentelemetry.io/otel/trace"
)

var traceparentShape = regexp.MustCompile(`^00-[0-9a-f]{32}-[0-9a-f]{16}-[0-9a-f]{2}$`)

func TestSender_Run_Headers(t *testing.T) {
	tm, exp := mockNewTracerManager()

	var got http.Header
	var gotBody []byte
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		got = req.Header.Clone()
		gotMethod = req.Method
		gotBody, _ = io.ReadAll(req.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _, _ := mockNewSender(tm)
	res, err := s.Run(context.Background(), srv.URL)
	r.NoError(t, err)

	r.Equal(t, http.MethodPost, gotMethod)
	r.Equal(t, ContentTypeJSON, got.Get(HeaderContentType))
	r.Regexp(t, traceparentShape, got.Get(HeaderTraceparent))
	r.JSONEq(t, `{"name":"John"}`, string(gotBody))

	// the header names the client span, not the transaction
	spans := exp.GetSpans()
	r.Len(t, spans, 2)
	r.Equal(t, SpanName, spans[0].Name)
	parts := strings.Split(got.Get(HeaderTraceparent), "-")
	r.Equal(t, spans[0].SpanContext.TraceID().String(), parts[1])
	r.Equal(t, spans[0].SpanContext.SpanID().String(), parts[2])
	r.Equal(t, "01", parts[3])
	r.Equal(t, res.Traceparent, got.Get(HeaderTraceparent))
}

func TestSender_Run_Success(t *testing.T) {
	tm, exp := mockNewTracerManager()
	hook := logtest.NewGlobal()
	defer hook.Reset()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(HeaderContentType, ContentTypeJSON)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s, out, errOut := mockNewSender(tm)
	res, err := s.Run(context.Background(), srv.URL)
	r.NoError(t, err)
	r.False(t, res.Failed())
	r.Equal(t, http.StatusOK, res.StatusCode)

	r.Equal(t, "Status: 200\n{\"ok\":true}\n", out.String())
	r.Empty(t, errOut.String())
	requireNoErrorLog(t, hook)
	requireLifecycle(t, exp)
}

func TestSender_Run_ErrorStatusIsNotFailure(t *testing.T) {
	tm, exp := mockNewTracerManager()
	hook := logtest.NewGlobal()
	defer hook.Reset()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}))
	defer srv.Close()

	s, out, errOut := mockNewSender(tm)
	res, err := s.Run(context.Background(), srv.URL)
	r.NoError(t, err)
	r.False(t, res.Failed())

	r.Equal(t, "Status: 404\nnot found\n", out.String())
	r.Empty(t, errOut.String())
	requireNoErrorLog(t, hook)

	spans := requireLifecycle(t, exp)
	r.Equal(t, codes.Unset, spans[0].Status.Code)
}

func TestSender_Run_TransportFailure(t *testing.T) {
	tm, exp := mockNewTracerManager()

	refused := &mockDoer{err: errors.New("dial tcp 127.0.0.1:9999: connect: connection refused")}
	s, out, errOut := mockNewSender(tm, WithClient(refused))

	r.NotPanics(t, func() {
		res, err := s.Run(context.Background(), "http://localhost:9999/test")
		r.NoError(t, err)
		r.True(t, res.Failed())
		r.ErrorIs(t, res.Err, ErrTransport)
		r.Zero(t, res.StatusCode)
	})

	r.Equal(t, 1, refused.calls)
	r.Empty(t, out.String())
	r.Contains(t, errOut.String(), "connection refused")

	spans := requireLifecycle(t, exp)
	r.Equal(t, codes.Error, spans[0].Status.Code)
	r.Len(t, spans[0].Events, 1)
}

func TestSender_Run_TransportFailureFatal(t *testing.T) {
	tm, exp := mockNewTracerManager()

	refused := &mockDoer{err: errors.New("connection refused")}
	s, _, _ := mockNewSender(tm, WithClient(refused), WithTransportFailureFatal(true))

	res, err := s.Run(context.Background(), "http://localhost:9999/test")
	r.ErrorIs(t, err, ErrTransport)
	r.Same(t, res.Err, err)
	requireLifecycle(t, exp)
}

func TestSender_Run_Timeout(t *testing.T) {
	tm, exp := mockNewTracerManager()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-req.Context().Done():
		}
	}))
	defer srv.Close()

	s, out, errOut := mockNewSender(tm, WithTimeout(50*time.Millisecond))
	res, err := s.Run(context.Background(), srv.URL)
	r.NoError(t, err)
	r.True(t, res.Failed())
	r.ErrorIs(t, res.Err, ErrTransport)
	r.Zero(t, res.StatusCode)

	r.Empty(t, out.String())
	r.NotEmpty(t, errOut.String())

	spans := requireLifecycle(t, exp)
	r.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestSender_NewSender_DefaultClient(t *testing.T) {
	tm, _ := mockNewTracerManager()

	s, _, _ := mockNewSender(tm)
	r.Same(t, http.DefaultClient, s.client)

	s, _, _ = mockNewSender(tm, WithTimeout(time.Second))
	client, ok := s.client.(*http.Client)
	r.True(t, ok)
	r.Equal(t, time.Second, client.Timeout)
}

func TestSender_Run_MalformedURL(t *testing.T) {
	tm, exp := mockNewTracerManager()
	doer := &mockDoer{}
	s, out, errOut := mockNewSender(tm, WithClient(doer))

	res, err := s.Run(context.Background(), "http://[::1")
	r.NoError(t, err)
	r.ErrorIs(t, res.Err, ErrTransport)
	r.Zero(t, doer.calls)
	r.Empty(t, out.String())
	r.NotEmpty(t, errOut.String())
	requireLifecycle(t, exp)
}

func TestSender_Run_Recorder(t *testing.T) {
	tm, _ := mockNewTracerManager()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rec := &mockRecorder{}
	s, _, _ := mockNewSender(tm, WithRecorder(rec))
	res, err := s.Run(context.Background(), srv.URL)
	r.NoError(t, err)

	r.Len(t, rec.results, 1)
	r.Same(t, res, rec.results[0])
	r.Equal(t, http.StatusAccepted, rec.results[0].StatusCode)
	r.False(t, rec.results[0].EndTime.Before(rec.results[0].StartTime))
}

// requireLifecycle checks one transaction and one nested span, the span ended first.
func requireLifecycle(t *testing.T, exp *tracetest.InMemoryExporter) tracetest.SpanStubs {
	t.Helper()
	spans := exp.GetSpans()
	r.Len(t, spans, 2)

	span, transaction := spans[0], spans[1]
	r.Equal(t, SpanName, span.Name)
	r.Equal(t, TransactionName, transaction.Name)
	r.Equal(t, tr.SpanKindClient, span.SpanKind)
	r.Equal(t, transaction.SpanContext.SpanID(), span.Parent.SpanID())
	r.Equal(t, transaction.SpanContext.TraceID(), span.SpanContext.TraceID())
	r.False(t, transaction.Parent.IsValid())
	r.False(t, span.EndTime.After(transaction.EndTime))
	return spans
}

func requireNoErrorLog(t *testing.T, hook *logtest.Hook) {
	t.Helper()
	for _, entry := range hook.AllEntries() {
		r.NotEqual(t, logrus.ErrorLevel, entry.Level, entry.Message)
	}
}

//mockers

func mockNewTracerManager() (*TracerManager, *tracetest.InMemoryExporter) {
	tm := NewTracerManager(&config.Config{ServiceName: "tracepost-test"})
	exp := tracetest.NewInMemoryExporter()
	tm.InitSyncExporter(exp)
	return tm, exp
}

func mockNewSender(tm *TracerManager, opts ...SenderOption) (*Sender, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	opts = append([]SenderOption{WithOutput(out, errOut)}, opts...)
	return NewSender(tm, opts...), out, errOut
}

type mockDoer struct {
	calls int
	err   error
}

func (d *mockDoer) Do(_ *http.Request) (*http.Response, error) {
	d.calls++
	return nil, d.err
}

type mockRecorder struct {
	results []*Result
}

func (m *mockRecorder) Record(res *Result) {
	m.results = append(m.results, res)
}
