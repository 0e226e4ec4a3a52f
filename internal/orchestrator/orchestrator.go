// Package orchestrator runs admitted generation jobs: it submits to the
// provider, records the task, polls until a terminal status or the deadline,
// and finalizes each job exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"imagebot/internal/domain"
	"imagebot/internal/metrics"
)

var (
	ErrShuttingDown = errors.New("orchestrator: shutting down")
	ErrCancelled    = errors.New("orchestrator: job cancelled")
	ErrJobNotFound  = errors.New("orchestrator: job not found")
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 300 * time.Second

	// bounds the store writes made while finalizing, which run detached
	// from the job context
	persistTimeout = 10 * time.Second

	msgNoResult = "no result returned"
)

// JobClient is the provider contract consumed by the orchestrator.
type JobClient interface {
	Submit(ctx context.Context, prompt string, params domain.GenerationParams) (domain.Submission, error)
	Fetch(ctx context.Context, taskID, pollURL string) (domain.Snapshot, error)
}

// SlotReleaser returns an admission slot taken for a job.
type SlotReleaser interface {
	Release(userID int64)
}

// Sink receives the single completion event of a job. It runs on the job's
// goroutine.
type Sink func(domain.CompletionEvent)

// Request describes an admitted job.
type Request struct {
	UserID int64
	Kind   domain.JobKind
	Prompt string
	Params domain.GenerationParams
}

type Options struct {
	Client  JobClient
	Tasks   domain.TaskRepository
	Usage   domain.UserRepository
	Images  domain.ImageRepository
	Slots   SlotReleaser
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Clock   clock.Clock

	PollInterval time.Duration
	PollTimeout  time.Duration
	// FetchRetries is the number of extra attempts after a failed poll.
	// Zero means the first transport error ends the job.
	FetchRetries int
	Tracking     Tracking
}

type Orchestrator struct {
	client  JobClient
	tasks   domain.TaskRepository
	usage   domain.UserRepository
	images  domain.ImageRepository
	slots   SlotReleaser
	logger  zerolog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock

	pollInterval time.Duration
	pollTimeout  time.Duration
	fetchRetries int

	registry *registry

	root   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("orchestrator: job client is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("orchestrator: task repository is required")
	}
	if opts.Slots == nil {
		return nil, errors.New("orchestrator: slot releaser is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.FetchRetries < 0 {
		opts.FetchRetries = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	root, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		client:       opts.Client,
		tasks:        opts.Tasks,
		usage:        opts.Usage,
		images:       opts.Images,
		slots:        opts.Slots,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		pollTimeout:  opts.PollTimeout,
		fetchRetries: opts.FetchRetries,
		registry:     newRegistry(opts.Tracking),
		root:         root,
		stop:         stop,
	}, nil
}

// SubmitAndTrack starts tracking an admitted job and returns immediately.
// The caller's admission slot is owned by the job from here on: it is
// released when the job finishes, is cancelled, or when SubmitAndTrack
// itself returns an error.
func (o *Orchestrator) SubmitAndTrack(req Request, sink Sink) (*Handle, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" || !req.Kind.Valid() {
		o.slots.Release(req.UserID)
		return nil, fmt.Errorf("submit job: %w", domain.ErrInvalidInput)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.slots.Release(req.UserID)
		return nil, ErrShuttingDown
	}
	ctx, cancel := context.WithCancel(o.root)
	h := newHandle(uuid.NewString(), req, o.clock.Now(), cancel)
	o.registry.add(h)
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.JobStarted()
	o.logger.Info().
		Str("handle_id", h.ID).
		Int64("user_id", req.UserID).
		Str("kind", string(req.Kind)).
		Msg("orchestrator: job accepted")

	go o.run(ctx, h, req, sink)
	return h, nil
}

// Handles lists the user's in-flight handles that are still tracked.
func (o *Orchestrator) Handles(userID int64) []*Handle {
	return o.registry.list(userID)
}

// Lookup returns a tracked in-flight handle owned by userID.
func (o *Orchestrator) Lookup(userID int64, handleID string) (*Handle, bool) {
	return o.registry.get(userID, handleID)
}

// InFlight counts tracked handles across users.
func (o *Orchestrator) InFlight() int {
	return o.registry.count()
}

// Cancel stops a tracked job at its next poll step. The task record keeps
// its last stored status and no completion event is emitted.
func (o *Orchestrator) Cancel(userID int64, handleID string) error {
	h, ok := o.registry.get(userID, handleID)
	if !ok {
		return ErrJobNotFound
	}
	h.cancel()
	return nil
}

// Shutdown refuses new jobs, cancels every running job and waits for their
// goroutines to exit or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info().Msg("orchestrator: all jobs drained")
		return nil
	case <-ctx.Done():
		o.logger.Warn().Int("in_flight", o.registry.count()).Msg("orchestrator: shutdown deadline reached")
		return ctx.Err()
	}
}

// outcome is a terminal result ready to be finalized.
type outcome struct {
	status    domain.TaskStatus
	resultURL string
	errMsg    string
}

func (o *Orchestrator) run(ctx context.Context, h *Handle, req Request, sink Sink) {
	defer o.wg.Done()
	defer h.cancel()

	if ctx.Err() != nil {
		o.abandon(h)
		return
	}

	// Provider and store calls are not interrupted by cancellation; it is
	// observed between steps only.
	callCtx := context.WithoutCancel(ctx)
	start := o.clock.Now()
	log := o.logger.With().Str("handle_id", h.ID).Int64("user_id", h.UserID).Logger()

	sub, err := o.client.Submit(callCtx, req.Prompt, req.Params)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: submit failed")
		o.finalize(h, sink, start, outcome{status: domain.TaskStatusError, errMsg: err.Error()})
		return
	}
	// the poll deadline runs from the provider's acceptance; start still
	// covers the whole job for the duration metric
	submitted := o.clock.Now()
	h.setSubmitted(sub.TaskID)
	o.metrics.RecordSubmitted(string(req.Kind))
	log = log.With().Str("task_id", sub.TaskID).Logger()

	record := &domain.TaskRecord{
		UserID: h.UserID,
		TaskID: sub.TaskID,
		Kind:   req.Kind,
		Status: domain.TaskStatusPending,
		Prompt: req.Prompt,
	}
	if _, err := o.tasks.Save(callCtx, record); err != nil {
		log.Error().Err(err).Msg("orchestrator: save task failed")
		o.finalize(h, sink, start, outcome{status: domain.TaskStatusError, errMsg: fmt.Sprintf("failed to record task: %v", err)})
		return
	}
	h.setPersisted()

	failures := 0
	for {
		if ctx.Err() != nil {
			log.Info().Msg("orchestrator: job cancelled")
			o.abandon(h)
			return
		}

		snap, err := o.client.Fetch(callCtx, sub.TaskID, sub.PollURL)
		if err != nil {
			o.metrics.RecordFetch("error")
			// a retry fetch must land no later than the deadline
			if failures < o.fetchRetries && o.clock.Since(submitted)+o.pollInterval <= o.pollTimeout {
				failures++
				log.Warn().Err(err).Int("attempt", failures).Msg("orchestrator: fetch failed, retrying")
				if !o.sleep(ctx) {
					o.abandon(h)
					return
				}
				continue
			}
			log.Error().Err(err).Msg("orchestrator: fetch failed")
			o.finalize(h, sink, start, outcome{status: domain.TaskStatusError, errMsg: err.Error()})
			return
		}
		o.metrics.RecordFetch("ok")
		failures = 0
		h.observe(snap.Status)

		if out, terminal := classify(snap); terminal {
			o.finalize(h, sink, start, out)
			return
		}
		if elapsed := o.clock.Since(submitted); elapsed >= o.pollTimeout {
			o.finalize(h, sink, start, outcome{
				status: domain.TaskStatusTimeout,
				errMsg: fmt.Sprintf("generation timed out after %d seconds", int(o.pollTimeout/time.Second)),
			})
			return
		}
		if !o.sleep(ctx) {
			log.Info().Msg("orchestrator: job cancelled")
			o.abandon(h)
			return
		}
	}
}

// classify maps a provider snapshot to a terminal outcome. Pending and any
// status the provider may add later keep the job polling.
func classify(snap domain.Snapshot) (outcome, bool) {
	switch snap.Status {
	case "Ready":
		if strings.TrimSpace(snap.ResultURL) == "" {
			return outcome{status: domain.TaskStatusError, errMsg: msgNoResult}, true
		}
		return outcome{status: domain.TaskStatusReady, resultURL: snap.ResultURL}, true
	case "Error":
		return outcome{status: domain.TaskStatusError, errMsg: providerMessage(snap)}, true
	case "Failed":
		return outcome{status: domain.TaskStatusFailed, errMsg: providerMessage(snap)}, true
	case "Content Moderated":
		return outcome{status: domain.TaskStatusContentModerated, errMsg: providerMessage(snap)}, true
	}
	return outcome{}, false
}

func providerMessage(snap domain.Snapshot) string {
	if msg := strings.TrimSpace(snap.Error); msg != "" {
		return msg
	}
	return "provider reported " + snap.Status
}

// sleep waits one poll interval and reports false if the job was cancelled.
func (o *Orchestrator) sleep(ctx context.Context) bool {
	t := o.clock.NewTimer(o.pollInterval)
	defer t.Stop()
	select {
	case <-t.C():
		return true
	case <-ctx.Done():
		return false
	}
}

// finalize applies a terminal outcome once; later calls for the same handle
// are ignored.
func (o *Orchestrator) finalize(h *Handle, sink Sink, start time.Time, out outcome) bool {
	if !h.finalized.CompareAndSwap(false, true) {
		return false
	}
	taskID := h.TaskID()
	log := o.logger.With().Str("handle_id", h.ID).Int64("user_id", h.UserID).Str("task_id", taskID).Logger()

	if h.isPersisted() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		o.persist(ctx, log, h, out)
		cancel()
	}

	o.slots.Release(h.UserID)
	o.registry.remove(h)
	o.metrics.JobFinished(string(h.Kind), string(out.status), o.clock.Since(start))

	ev := domain.CompletionEvent{
		TaskID:       taskID,
		UserID:       h.UserID,
		Kind:         h.Kind,
		Status:       out.status,
		ResultURL:    out.resultURL,
		ErrorMessage: out.errMsg,
	}
	log.Info().Str("status", string(out.status)).Msg("orchestrator: job finished")
	if sink != nil {
		sink(ev)
	}
	h.complete(&ev)
	return true
}

func (o *Orchestrator) persist(ctx context.Context, log zerolog.Logger, h *Handle, out outcome) {
	var resultURL, errMsg *string
	if out.resultURL != "" {
		resultURL = &out.resultURL
	}
	if out.errMsg != "" {
		errMsg = &out.errMsg
	}
	changed, err := o.tasks.UpdateStatus(ctx, h.TaskID(), out.status, resultURL, errMsg)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: persist terminal status failed")
		return
	}
	if !changed {
		log.Warn().Msg("orchestrator: task already left pending, skipping side effects")
		return
	}
	if out.status != domain.TaskStatusReady {
		return
	}
	if o.usage != nil {
		if err := o.usage.IncrementUsage(ctx, h.UserID, h.Kind); err != nil {
			log.Error().Err(err).Msg("orchestrator: increment usage failed")
		}
	}
	if o.images != nil {
		_, err := o.images.Save(ctx, &domain.ImageRecord{
			UserID:   h.UserID,
			TaskID:   h.TaskID(),
			Prompt:   h.Prompt,
			ImageURL: out.resultURL,
			Kind:     h.Kind,
			Metadata: map[string]any{
				"width":         h.Params.Width,
				"height":        h.Params.Height,
				"output_format": h.Params.OutputFormat,
			},
		})
		if err != nil {
			log.Error().Err(err).Msg("orchestrator: save image history failed")
		}
	}
}

// abandon ends a cancelled job without a terminal status.
func (o *Orchestrator) abandon(h *Handle) {
	if !h.finalized.CompareAndSwap(false, true) {
		return
	}
	o.slots.Release(h.UserID)
	o.registry.remove(h)
	o.metrics.JobCancelled()
	h.complete(nil)
}
