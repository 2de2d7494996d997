package execution

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/internal/future"
	"github.com/HyphaGroup/airops-go/internal/metrics"
	"github.com/HyphaGroup/airops-go/realtime"
)

// Execution is submitted work whose result resolves exactly once, from
// whichever of the completed event, a terminal poll, the deadline or
// Cancel comes first.
type Execution struct {
	c      *Coordinator
	handle Handle
	sub    *realtime.Subscription
	logger *slog.Logger

	result     *future.Future[*Result]
	settling   atomic.Bool
	startOnce  sync.Once
	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func newExecution(c *Coordinator, h Handle, sub *realtime.Subscription) *Execution {
	return &Execution{
		c:        c,
		handle:   h,
		sub:      sub,
		logger:   c.logger.With("app_id", h.AppID, "ref", h.Ref(), "kind", h.Kind),
		result:   future.New[*Result](),
		cancelCh: make(chan struct{}),
	}
}

// ID returns the remote execution id, empty for chats without a record
func (e *Execution) ID() string {
	return e.handle.ExecutionID
}

// Handle returns the submitted handle
func (e *Execution) Handle() Handle {
	return e.handle
}

// Subscription returns the stream subscription, nil when not streaming
func (e *Execution) Subscription() *realtime.Subscription {
	return e.sub
}

// Done is closed once the result is resolved
func (e *Execution) Done() <-chan struct{} {
	return e.result.Done()
}

// Result waits for the terminal snapshot. The first call starts resolution;
// it keeps running until a terminal status, the deadline or Cancel even if
// ctx ends first, so later calls observe the same outcome.
func (e *Execution) Result(ctx context.Context) (*Result, error) {
	e.startOnce.Do(func() {
		go e.resolve()
	})
	return e.result.Wait(ctx)
}

// Cancel stops streaming and asks the API to cancel. Only the first call
// does anything and only it can return an error; after the result has
// resolved it just tears down the stream.
func (e *Execution) Cancel(ctx context.Context) error {
	var err error
	e.cancelOnce.Do(func() {
		err = e.cancel(ctx)
	})
	return err
}

func (e *Execution) cancel(ctx context.Context) error {
	if e.sub != nil {
		e.sub.Unsubscribe()
	}
	if e.settling.Load() {
		return nil
	}
	close(e.cancelCh)

	if e.handle.ExecutionID == "" {
		e.settle(e.cancelledSnapshot(), nil, SourceCancel)
		return nil
	}

	err := e.c.CancelRemote(ctx, e.handle.AppID, e.handle.ExecutionID)
	if err == nil {
		e.settle(e.cancelledSnapshot(), nil, SourceCancel)
		e.logger.Info("Execution cancelled")
		return nil
	}

	// The API refuses to cancel work that already finished
	res, getErr := e.c.GetResults(ctx, e.handle.AppID, e.handle.ExecutionID)
	if getErr == nil && res != nil && res.Status.Terminal() {
		e.logger.Info("Execution finished before cancel", "status", res.Status)
		e.settle(res, nil, SourcePoll)
		return nil
	}

	e.logger.Warn("Remote cancel failed", "error", err)
	e.settle(e.cancelledSnapshot(), nil, SourceCancel)
	return err
}

func (e *Execution) resolve() {
	start := time.Now()
	deadline := start.Add(e.c.timeout)

	// In-flight polls are abandoned once the result is settled or cancelled
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		select {
		case <-e.cancelCh:
		case <-e.result.Done():
		}
		stop()
	}()

	var completed <-chan realtime.Completed
	if e.sub != nil {
		completed = e.sub.Completed()
	}

	polling := e.handle.ExecutionID != ""
	var tick <-chan time.Time
	if polling {
		immediate := make(chan time.Time, 1)
		immediate <- start
		tick = immediate
	}
	deadlineTimer := time.NewTimer(e.c.timeout)
	defer deadlineTimer.Stop()

	for {
		if e.stopped() {
			return
		}
		select {
		case <-e.result.Done():
			return
		case <-e.cancelCh:
			return
		case ev := <-completed:
			e.settle(e.completedSnapshot(ev), nil, SourcePush)
			return
		case <-deadlineTimer.C:
			e.settle(nil, e.timeoutError(time.Since(start)), SourceTimeout)
			return
		case <-tick:
		}

		res, err := e.c.GetResults(ctx, e.handle.AppID, e.handle.ExecutionID)
		if err != nil {
			if ctx.Err() != nil {
				// settled or cancelled while the request was in flight
				return
			}
			e.settle(nil, err, SourceError)
			return
		}
		status := Status("")
		if res != nil {
			status = res.Status
		}
		metrics.RecordPoll(string(status))
		if status.Terminal() {
			e.settle(res, nil, SourcePoll)
			return
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			e.settle(nil, e.timeoutError(time.Since(start)), SourceTimeout)
			return
		}
		tick = time.After(min(e.c.pollInterval, remaining))
	}
}

// stopped reports whether the result is settled or cancellation began
func (e *Execution) stopped() bool {
	if e.settling.Load() {
		return true
	}
	select {
	case <-e.result.Done():
		return true
	case <-e.cancelCh:
		return true
	default:
		return false
	}
}

// settle resolves the result once; it reports whether this call won. The
// resolution is recorded before waiters are released.
func (e *Execution) settle(res *Result, err error, source string) bool {
	if !e.settling.CompareAndSwap(false, true) {
		return false
	}
	if e.sub != nil {
		e.sub.Unsubscribe()
	}

	status := "error"
	if res != nil {
		status = string(res.Status)
	} else if errors.Is(err, apperr.ErrExecutionTimeout) {
		status = "timeout"
	}
	elapsed := time.Since(e.handle.CreatedAt)
	metrics.RecordResolution(source, status, elapsed)

	if err != nil {
		e.logger.Warn("Execution resolved with error", "source", source, "error", err)
	} else {
		e.logger.Info("Execution resolved", "source", source, "status", status, "elapsed", elapsed)
	}

	if e.c.recorder != nil {
		if recErr := e.c.recorder.RecordResolved(context.Background(), e.handle, res, source, err); recErr != nil {
			e.logger.Warn("Failed to record resolution", "error", recErr)
		}
	}

	if err != nil {
		e.result.Reject(err)
	} else {
		e.result.Resolve(res)
	}
	return true
}

func (e *Execution) timeoutError(elapsed time.Duration) error {
	return &apperr.TimeoutError{AppID: e.handle.AppID, ExecutionID: e.handle.Ref(), Elapsed: elapsed}
}

func (e *Execution) baseSnapshot(status Status) *Result {
	return &Result{
		ID:              ID(e.handle.ExecutionID),
		AppID:           ID(e.handle.AppID),
		Status:          status,
		StreamChannelID: e.handle.StreamChannelID,
	}
}

func (e *Execution) completedSnapshot(ev realtime.Completed) *Result {
	res := e.baseSnapshot(StatusSuccess)
	if out, err := json.Marshal(ev.Text()); err == nil {
		res.Output = out
	}
	return res
}

func (e *Execution) cancelledSnapshot() *Result {
	return e.baseSnapshot(StatusCancelled)
}
