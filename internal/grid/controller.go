// Package grid implements the paging controller behind a data grid: it
// composes queries from search/filter/sort state, fetches pages on a worker
// pool and publishes only the newest result to its listener.
package grid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gridkit/internal/datasource"
	"github.com/noah-isme/gridkit/internal/models"
	"github.com/noah-isme/gridkit/pkg/jobs"
)

// Metrics receives fetch telemetry. service.MetricsService satisfies it.
type Metrics interface {
	ObserveGridFetch(outcome string, duration time.Duration)
	IncGridStaleDrop()
}

// Fetch outcomes reported to Metrics.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeStale = "stale"
)

// Options configures a Controller.
type Options struct {
	PageSize int
	// Workers is the number of concurrent fetch goroutines.
	Workers int
	// Buffer bounds both queued fetch jobs and undelivered completions. Fetches
	// dispatched while the queue is full collapse into a single pending slot.
	Buffer   int
	Listener Listener
	Logger   *zap.Logger
	Metrics  Metrics
}

// Completion is the outcome of one fetch, posted by a worker and applied by
// the owner through Handle.
type Completion struct {
	RequestID uint64
	Append    bool
	Page      models.Page
	Err       error
	Duration  time.Duration
}

type fetchPayload struct {
	requestID uint64
	appended  bool
	query     models.Query
}

// Controller owns the grid state. It is not safe for concurrent use: every
// method, including Handle and Await, must be called from the goroutine that
// owns it. Fetches run on a worker pool and report back through Completions.
type Controller struct {
	source   datasource.Source
	listener Listener
	logger   *zap.Logger
	metrics  Metrics

	queue       *jobs.Queue
	completions chan Completion

	// pending holds the newest fetch that did not fit in the queue.
	pendingMu sync.Mutex
	pending   *fetchPayload

	st        state
	requestID uint64
	loading   bool
	appending bool
}

// NewController constructs a controller over source. Call Start before the
// first fetch.
func NewController(source datasource.Source, opts Options) *Controller {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Controller{
		source:      source,
		listener:    opts.Listener,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		completions: make(chan Completion, opts.Buffer),
		st:          newState(opts.PageSize),
	}
	c.queue = jobs.NewQueue("grid-fetch", c.runFetch, jobs.QueueConfig{
		Workers:    opts.Workers,
		BufferSize: opts.Buffer,
		MaxRetries: jobs.NoRetry,
		Logger:     opts.Logger,
	})
	return c
}

// Start launches the fetch workers.
func (c *Controller) Start(ctx context.Context) {
	c.queue.Start(ctx)
}

// Stop waits for the fetch workers to exit. In-flight results are discarded.
func (c *Controller) Stop() {
	c.queue.Stop()
}

// SetListener replaces the listener. nil silences notifications.
func (c *Controller) SetListener(l Listener) {
	if l == nil {
		l = nopListener{}
	}
	c.listener = l
}

// SetSearch updates the search settings and reloads page 1.
func (c *Controller) SetSearch(text string, mode models.SearchMode, caseSensitive, accentInsensitive bool) {
	if mode == "" {
		mode = models.SearchContains
	}
	c.st.searchText = text
	c.st.searchMode = mode
	c.st.caseSensitive = caseSensitive
	c.st.accentInsensitive = accentInsensitive
	c.GotoPage(1)
}

// SetFilters replaces the filter list and reloads page 1.
func (c *Controller) SetFilters(filters []models.FilterSpec) {
	c.st.filters = slices.Clone(filters)
	c.GotoPage(1)
}

// AddFilter appends one filter and reloads page 1.
func (c *Controller) AddFilter(f models.FilterSpec) {
	c.st.filters = append(c.st.filters, f)
	c.GotoPage(1)
}

// ClearFilters removes every filter and reloads page 1.
func (c *Controller) ClearFilters() {
	c.st.filters = nil
	c.GotoPage(1)
}

// SetSort replaces the sort keys and reloads page 1. The first key is primary.
func (c *Controller) SetSort(sort []models.SortSpec) {
	c.st.sort = slices.Clone(sort)
	c.GotoPage(1)
}

// SetPageSize changes the page size, clamped to at least 1, and reloads page 1.
func (c *Controller) SetPageSize(n int) {
	c.st.pageSize = max(1, n)
	c.GotoPage(1)
}

// SetSearchableFields restricts search to fields and reloads page 1. An empty
// list searches every field.
func (c *Controller) SetSearchableFields(fields []string) {
	c.st.searchable = slices.Clone(fields)
	c.GotoPage(1)
}

// GotoPage loads page n, clamped to at least 1, replacing the displayed rows.
func (c *Controller) GotoPage(n int) {
	c.st.page = max(1, n)
	c.Refresh(false)
}

// NextPage advances one page unless already on the last one.
func (c *Controller) NextPage() {
	if c.st.page < c.st.totalPages() {
		c.st.page++
		c.Refresh(false)
	}
}

// PrevPage goes back one page unless already on the first one.
func (c *Controller) PrevPage() {
	if c.st.page > 1 {
		c.st.page--
		c.Refresh(false)
	}
}

// LoadNextAppend fetches the next page and appends its rows to the displayed
// ones. It does nothing on the last page. Page advances at dispatch and moves
// back if the fetch fails, so a retry asks for the same page again.
func (c *Controller) LoadNextAppend() {
	if c.st.page >= c.st.totalPages() {
		return
	}
	c.st.page++
	c.Refresh(true)
}

// Refresh dispatches a fetch for the current state and returns immediately.
// Every call supersedes earlier in-flight fetches, including ones still
// loading.
func (c *Controller) Refresh(appended bool) {
	c.requestID++
	c.appending = appended
	c.setLoading(true)

	payload := fetchPayload{requestID: c.requestID, appended: appended, query: c.st.query()}
	if err := c.dispatch(payload); err != nil {
		c.logger.Error("dispatch grid fetch", zap.Uint64("request_id", payload.requestID), zap.Error(err))
		c.setLoading(false)
		c.listener.OnError(err.Error())
	}
}

// dispatch never waits on the queue. When the buffer is full the payload
// replaces whatever sits in the pending slot; every job still buffered drains
// that slot once its own fetch is done, so the newest request always runs.
func (c *Controller) dispatch(payload fetchPayload) error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	err := c.queue.TryEnqueue(jobs.Job{
		ID:      fmt.Sprintf("fetch-%d", payload.requestID),
		Type:    jobs.TypeGridFetch,
		Payload: payload,
	})
	if errors.Is(err, jobs.ErrQueueFull) {
		if c.pending != nil {
			c.logger.Debug("superseded queued grid fetch", zap.Uint64("request_id", c.pending.requestID))
		}
		c.pending = &payload
		return nil
	}
	return err
}

func (c *Controller) takePending() *fetchPayload {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

func (c *Controller) runFetch(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(fetchPayload)
	if !ok {
		return fmt.Errorf("unexpected fetch payload %T", job.Payload)
	}
	c.fetch(ctx, payload)
	for next := c.takePending(); next != nil; next = c.takePending() {
		c.fetch(ctx, *next)
	}
	// fetch failures are results delivered to the owner, not job failures
	return nil
}

func (c *Controller) fetch(ctx context.Context, payload fetchPayload) {
	start := time.Now()
	page, err := c.source.FetchPage(ctx, payload.query)
	done := Completion{
		RequestID: payload.requestID,
		Append:    payload.appended,
		Page:      page,
		Err:       err,
		Duration:  time.Since(start),
	}

	select {
	case c.completions <- done:
	case <-ctx.Done():
	}
}

// Completions delivers finished fetches. Pass each value to Handle on the
// owning goroutine.
func (c *Controller) Completions() <-chan Completion {
	return c.completions
}

// Handle applies a completion. Results for any request other than the latest
// are dropped without notifying the listener. It reports whether the
// completion was applied.
func (c *Controller) Handle(done Completion) bool {
	if done.RequestID != c.requestID {
		c.logger.Debug("dropping stale grid page",
			zap.Uint64("request_id", done.RequestID),
			zap.Uint64("current_request_id", c.requestID))
		if c.metrics != nil {
			c.metrics.IncGridStaleDrop()
			c.metrics.ObserveGridFetch(OutcomeStale, done.Duration)
		}
		return false
	}

	if done.Err != nil {
		if c.metrics != nil {
			c.metrics.ObserveGridFetch(OutcomeError, done.Duration)
		}
		c.logger.Warn("grid fetch failed", zap.Uint64("request_id", done.RequestID), zap.Error(done.Err))
		if done.Append {
			c.st.page = max(1, c.st.page-1)
		}
		c.setLoading(false)
		c.listener.OnError(done.Err.Error())
		return true
	}

	if c.metrics != nil {
		c.metrics.ObserveGridFetch(OutcomeOK, done.Duration)
	}
	c.st.applyPage(done.Page, done.Append)
	c.setLoading(false)
	c.listener.OnPageChanged(done.Page, done.RequestID, done.Append)
	return true
}

// Await handles completions until the latest request has been applied or ctx
// ends. It returns immediately when nothing is loading.
func (c *Controller) Await(ctx context.Context) error {
	for c.loading {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case done := <-c.completions:
			c.Handle(done)
		}
	}
	return nil
}

func (c *Controller) setLoading(v bool) {
	if c.loading == v {
		return
	}
	c.loading = v
	c.listener.OnLoadingChanged(v)
}

// Page returns the current 1-based page number.
func (c *Controller) Page() int { return c.st.page }

// PageSize returns the current page size.
func (c *Controller) PageSize() int { return c.st.pageSize }

// TotalRows returns the row count reported by the last applied page.
func (c *Controller) TotalRows() int { return c.st.totalRows }

// TotalPages returns max(1, ceil(TotalRows/PageSize)).
func (c *Controller) TotalPages() int { return c.st.totalPages() }

// Loading reports whether the latest request is still in flight.
func (c *Controller) Loading() bool { return c.loading }

// AppendMode reports whether the latest request was dispatched in append mode.
func (c *Controller) AppendMode() bool { return c.appending }

// RequestID returns the id of the latest dispatched request.
func (c *Controller) RequestID() uint64 { return c.requestID }

// SnapshotQuery returns the query the next fetch would use.
func (c *Controller) SnapshotQuery() models.Query { return c.st.query() }

// Rows returns a copy of the displayed rows, with appended pages included.
func (c *Controller) Rows() []models.Row {
	out := make([]models.Row, len(c.st.rows))
	for i, r := range c.st.rows {
		out[i] = r.Clone()
	}
	return out
}
