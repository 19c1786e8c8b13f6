package rpz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/rpzload/internal/performance"
	"github.com/wesleyorama2/rpzload/internal/performance/config"
	"github.com/wesleyorama2/rpzload/internal/performance/rate"
)

// Check names recorded by the workload.
const (
	CheckPostItem = "POST item succeeded"
	CheckGet200   = "GET 200"
	CheckGetBody  = "GET body is item"
)

// Request names used to group metrics.
const (
	RequestPostItem = "POST /rpz/items"
	RequestGetItem  = "GET /rpz/items/{id}"
)

var errNoFixture = errors.New("fixture holds no item IDs")

// Fixture is the value Setup publishes: the IDs iterations pick from.
type Fixture struct {
	ItemIDs []string `json:"itemIds"`
}

// Workload preloads items during setup and GETs a random one per
// iteration.
type Workload struct {
	baseURL          string
	itemsCount       int
	setupConcurrency int
	setupRate        float64
	validateBody     bool
	logger           logrus.FieldLogger
}

// WorkloadOption configures a Workload.
type WorkloadOption func(*Workload)

// WithLogger sets the logger setup progress is reported to.
func WithLogger(logger logrus.FieldLogger) WorkloadOption {
	return func(w *Workload) { w.logger = logger }
}

// NewWorkload creates the items workload for the resolved configuration.
func NewWorkload(cfg *config.TestConfig, opts ...WorkloadOption) *Workload {
	w := &Workload{
		baseURL:          cfg.Target.BaseURL(),
		itemsCount:       cfg.ItemsCount,
		setupConcurrency: cfg.Workload.SetupConcurrency,
		setupRate:        cfg.Workload.SetupRate,
		validateBody:     cfg.Workload.ValidateBody,
		logger:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.itemsCount <= 0 {
		w.itemsCount = config.DefaultItemsCount
	}
	if w.setupConcurrency <= 0 {
		w.setupConcurrency = 1
	}
	w.logger = w.logger.WithField("component", "rpz-workload")
	return w
}

// Setup creates items item0..itemN-1, at most setupRate per second when a
// rate is set. Failed creations are recorded as failed checks and
// tolerated; the fixture always lists every ID. Setup fails only when no
// request reached the target at all or ctx ends.
func (w *Workload) Setup(ctx context.Context, s *performance.Session) (any, error) {
	ids := make([]string, w.itemsCount)
	for i := range ids {
		ids[i] = ItemID(i)
	}

	var created, rejected, unreachable atomic.Int64
	var lastErr atomic.Value

	var limiter *rate.Limiter
	if w.setupRate > 0 {
		limiter = rate.NewLimiter(w.setupRate, 1)
	}

	var g errgroup.Group
	g.SetLimit(w.setupConcurrency)

	for _, id := range ids {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			resp := s.Do(ctx, w.postItemRequest(id), performance.SuccessCheck(CheckPostItem))
			switch {
			case resp.Err != nil:
				unreachable.Add(1)
				lastErr.Store(resp.Err)
			case resp.Passed():
				created.Add(1)
			default:
				rejected.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := w.logger.WithFields(logrus.Fields{
		"created":     created.Load(),
		"rejected":    rejected.Load(),
		"unreachable": unreachable.Load(),
	})

	if unreachable.Load() == int64(len(ids)) {
		err, _ := lastErr.Load().(error)
		return nil, fmt.Errorf("%w: %s: %v", performance.ErrTargetUnreachable, w.baseURL, err)
	}
	if created.Load() < int64(len(ids)) {
		log.Warn("some items could not be created")
	} else {
		log.Info("items created")
	}

	return &Fixture{ItemIDs: ids}, nil
}

func (w *Workload) postItemRequest(id string) *performance.Request {
	body, _ := json.Marshal(newItem{ID: id, Name: PreloadedName(id)})
	return &performance.Request{
		Name:   RequestPostItem,
		Method: http.MethodPost,
		URL:    w.baseURL + "/rpz/items",
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	}
}

// Iterate GETs one item chosen uniformly from the fixture.
func (w *Workload) Iterate(ctx context.Context, it *performance.Iteration) error {
	fx, ok := it.Fixture.(*Fixture)
	if !ok || len(fx.ItemIDs) == 0 {
		return errNoFixture
	}

	id := fx.ItemIDs[it.Rand.IntN(len(fx.ItemIDs))]
	checks := []performance.Check{performance.StatusCheck(CheckGet200, http.StatusOK)}
	if w.validateBody {
		checks = append(checks, bodyCheck(id))
	}

	it.Session.Do(ctx, &performance.Request{
		Name:   RequestGetItem,
		Method: http.MethodGet,
		URL:    w.baseURL + "/rpz/items/" + url.PathEscape(id),
	}, checks...)

	return nil
}

func bodyCheck(id string) performance.Check {
	return performance.Check{
		Name: CheckGetBody,
		Func: func(r *performance.Response) bool {
			return r.Err == nil && r.Status == http.StatusOK && IsItem(r.Body, id)
		},
	}
}
