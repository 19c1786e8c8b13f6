package performance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// ErrTargetUnreachable is returned by a Setup that could not complete a
// single request against the target.
var ErrTargetUnreachable = errors.New("target unreachable")

// Workload is the code a load test runs. Setup is called once before any VU
// starts; its return value becomes the fixture every Iterate call sees.
// Iterate is called repeatedly by each VU and never concurrently with itself
// for the same VU.
//
// Request failures are data: they are recorded through the Session and must
// not be returned as errors. An error returned from Setup aborts the run; an
// error returned from Iterate is logged and the VU carries on.
type Workload interface {
	Setup(ctx context.Context, s *Session) (any, error)
	Iterate(ctx context.Context, it *Iteration) error
}

// Iteration is the per-call context handed to Workload.Iterate.
type Iteration struct {
	VUID    int
	Number  int64
	Fixture any
	Rand    *rand.Rand
	Session *Session
}

// Request describes one HTTP request issued through a Session.
type Request struct {
	// Name groups requests in metrics, e.g. "GET /rpz/items/{id}"
	Name   string
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the outcome of Session.Do as seen by the workload.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	Duration  time.Duration
	Err       error
	Abandoned bool
	Checks    map[string]bool
}

// Passed reports whether every check on the response passed.
func (r *Response) Passed() bool {
	for _, ok := range r.Checks {
		if !ok {
			return false
		}
	}
	return true
}

// Check is a named assertion evaluated against a response.
type Check struct {
	Name string
	Func func(*Response) bool
}

// StatusCheck passes when the response status equals code.
func StatusCheck(name string, code int) Check {
	return Check{
		Name: name,
		Func: func(r *Response) bool { return r.Err == nil && r.Status == code },
	}
}

// SuccessCheck passes on any 2xx status.
func SuccessCheck(name string) Check {
	return Check{
		Name: name,
		Func: func(r *Response) bool { return r.Err == nil && r.Status >= 200 && r.Status < 300 },
	}
}

// Session issues requests on behalf of one VU (or of Setup) and records an
// outcome for each of them.
type Session struct {
	client    *http.Client
	collector *metrics.Collector
	logger    logrus.FieldLogger
	vuID      int
	iteration int64
	setup     bool
}

// NewSession creates a session. setup marks requests as setup traffic so they
// are kept out of the load metrics.
func NewSession(client *http.Client, collector *metrics.Collector, logger logrus.FieldLogger, vuID int, iteration int64, setup bool) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		client:    client,
		collector: collector,
		logger:    logger,
		vuID:      vuID,
		iteration: iteration,
		setup:     setup,
	}
}

// Do issues req, evaluates checks against the response and records exactly
// one outcome. A request whose context is already done is not issued and not
// recorded. A request cut off by context cancellation is recorded as
// abandoned and its checks are not evaluated.
func (s *Session) Do(ctx context.Context, req *Request, checks ...Check) *Response {
	if err := ctx.Err(); err != nil {
		return &Response{Err: err, Abandoned: true}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return &Response{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp := s.roundTrip(ctx, httpReq)
	resp.Duration = time.Since(start)

	if !resp.Abandoned && len(checks) > 0 {
		resp.Checks = make(map[string]bool, len(checks))
		for _, c := range checks {
			resp.Checks[c.Name] = c.Func(resp)
		}
	}

	s.record(req, resp, start)
	return resp
}

func (s *Session) roundTrip(ctx context.Context, httpReq *http.Request) *Response {
	resp := &Response{}

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		resp.Err = err
		resp.Abandoned = ctx.Err() != nil
		return resp
	}
	defer httpResp.Body.Close()

	resp.Status = httpResp.StatusCode
	resp.Header = httpResp.Header

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		resp.Err = fmt.Errorf("failed to read response body: %w", err)
		resp.Abandoned = ctx.Err() != nil
		return resp
	}
	resp.Body = data
	return resp
}

func (s *Session) record(req *Request, resp *Response, start time.Time) {
	o := metrics.Outcome{
		VUID:      s.vuID,
		Iteration: s.iteration,
		Name:      req.Name,
		Method:    req.Method,
		URL:       req.URL,
		Setup:     s.setup,
		Timestamp: start,
		Duration:  resp.Duration,
		Status:    resp.Status,
		Abandoned: resp.Abandoned,
		Bytes:     int64(len(resp.Body)),
		Checks:    resp.Checks,
	}
	if resp.Err != nil {
		o.Error = resp.Err.Error()
	}

	if err := s.collector.Record(o); err != nil {
		s.logger.WithError(err).WithField("request", req.Name).Debug("outcome not recorded")
		return
	}

	if o.Failed() {
		s.logger.WithFields(logrus.Fields{
			"request":   req.Name,
			"status":    o.Status,
			"error":     o.Error,
			"abandoned": o.Abandoned,
		}).Debug("request failed")
	}
}
