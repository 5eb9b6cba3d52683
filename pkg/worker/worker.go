package worker

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mxngoc2104/thumbd/pkg/accel"
	"github.com/mxngoc2104/thumbd/pkg/imagefilter"
	"github.com/mxngoc2104/thumbd/pkg/messaging"
)

// State is the position of a worker in its job cycle
type State int32

const (
	StateWaiting State = iota
	StateProcessing
	StateReplying
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateProcessing:
		return "processing"
	case StateReplying:
		return "replying"
	default:
		return "unknown"
	}
}

// Config holds worker loop timing
type Config struct {
	ReplyInterval time.Duration // Pause between replies to the same job; zero re-sends immediately
	BindRetry     time.Duration // Backoff after a failed bind
}

// DefaultConfig re-sends continuously and retries binds after a second
func DefaultConfig() Config {
	return Config{
		ReplyInterval: 0,
		BindRetry:     time.Second,
	}
}

// Options are the collaborators shared by every worker in a pool. None of
// them carry per-job state.
type Options struct {
	Source    messaging.Source
	Processor *imagefilter.Processor
	Probe     accel.Probe
	Sinks     []messaging.EventPublisher
	Config    Config
	Logger    *slog.Logger
}

// Worker runs the job loop: bind, receive one job, then keep re-processing
// the job's image and replying until the reply destination disappears.
type Worker struct {
	id    int
	opts  Options
	log   *slog.Logger
	state atomic.Int32
}

// NewWorker creates a worker
func NewWorker(id int, opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		id:   id,
		opts: opts,
		log:  opts.Logger.With("worker", id),
	}
}

// ID returns the worker number
func (w *Worker) ID() int {
	return w.id
}

// State returns the current loop state
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run loops over jobs until ctx is done. Job-level failures never end it.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.cycle(ctx)
	}
}

// cycle is one WAITING → PROCESSING ⇄ REPLYING → WAITING round on a fresh
// subscription.
func (w *Worker) cycle(ctx context.Context) {
	w.setState(StateWaiting)

	sub, err := w.opts.Source.Bind(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("bind failed", "err", err, "retry_in", w.opts.Config.BindRetry)
			sleep(ctx, w.opts.Config.BindRetry)
		}
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			w.log.Debug("subscription close failed", "err", err)
		}
	}()

	w.log.Info("waiting for work")
	job, err := sub.Receive(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("receive failed", "err", err)
		}
		return
	}

	w.setState(StateProcessing)
	log := w.log.With("job_id", job.ID, "source", job.Source, "reply_to", job.ReplyTo)
	log.Info("job received")
	w.emit(ctx, log, messaging.Event{
		JobID:   job.ID,
		Source:  job.Source,
		ReplyTo: job.ReplyTo,
		Stage:   messaging.StageReceived,
	})

	src, err := imagefilter.Load(job.Source)
	if err != nil {
		w.abandon(ctx, log, job, 0, false, err)
		return
	}

	handle := w.openAccelerator(ctx, log, src)
	if handle != nil {
		defer handle.Release()
	}

	w.serve(ctx, log, sub, job, src, handle)
}

// openAccelerator probes once per job. A nil handle selects the fallback path.
func (w *Worker) openAccelerator(ctx context.Context, log *slog.Logger, src *image.Gray) accel.Handle {
	if w.opts.Probe == nil {
		return nil
	}
	device, ok := w.opts.Probe.Probe().Device()
	if !ok {
		return nil
	}
	handle, err := device.Open(ctx, src)
	if errors.Is(err, accel.ErrBusy) {
		log.Info("accelerator busy, using fallback path", "device", device.Name())
		return nil
	}
	if err != nil {
		log.Warn("accelerator open failed, using fallback path", "device", device.Name(), "err", err)
		return nil
	}
	log.Info("accelerator in use", "device", device.Name())
	return handle
}

// serve re-processes and re-sends the same job until its destination is
// gone or anything fails.
func (w *Worker) serve(ctx context.Context, log *slog.Logger, sub messaging.Subscription, job messaging.Job, src *image.Gray, handle accel.Handle) {
	accelerated := handle != nil
	replies := 0

	for {
		thumb, err := w.opts.Processor.Thumbnail(src, handle)
		if err != nil {
			w.abandon(ctx, log, job, replies, accelerated, err)
			return
		}

		w.setState(StateReplying)
		err = sub.SendReply(ctx, job, messaging.Reply{Body: thumb.Data, ContentType: thumb.ContentType})
		switch {
		case errors.Is(err, messaging.ErrDestinationGone):
			log.Info("reply destination gone", "replies", replies)
			w.emit(ctx, log, messaging.Event{
				JobID:       job.ID,
				Stage:       messaging.StageGone,
				Replies:     replies,
				Accelerated: accelerated,
			})
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.abandon(ctx, log, job, replies, accelerated, err)
			return
		}

		replies++
		if replies == 1 {
			w.emit(ctx, log, messaging.Event{
				JobID:       job.ID,
				Stage:       messaging.StageReplying,
				Replies:     replies,
				Accelerated: accelerated,
			})
		}

		if !sleep(ctx, w.opts.Config.ReplyInterval) {
			return
		}
		w.setState(StateProcessing)
	}
}

func (w *Worker) abandon(ctx context.Context, log *slog.Logger, job messaging.Job, replies int, accelerated bool, cause error) {
	log.Error("job abandoned", "replies", replies, "err", cause)
	w.emit(ctx, log, messaging.Event{
		JobID:       job.ID,
		Stage:       messaging.StageFailed,
		Replies:     replies,
		Accelerated: accelerated,
		Error:       cause.Error(),
	})
}

// emit hands the event to every sink. Sink failures are only logged.
func (w *Worker) emit(ctx context.Context, log *slog.Logger, event messaging.Event) {
	event.Worker = w.id
	event.HappenedAt = time.Now()
	for _, sink := range w.opts.Sinks {
		if err := sink.Publish(ctx, event); err != nil {
			log.Warn("event sink failed", "stage", event.Stage, "err", err)
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether ctx is still live
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
