package evolution

import (
	"context"
	"time"
)

// bridgeJob is one unit of work submitted to the Bridge's event loop: call
// fn and deliver its result on result.
type bridgeJob struct {
	fn     func(ctx context.Context) (string, error)
	result chan bridgeResult
}

type bridgeResult struct {
	value string
	err   error
}

// Bridge runs a single background goroutine that owns the event loop
// driving evolution work, presenting a synchronous facade (Submit) to
// callers that blocks on a future with a bounded deadline rather than the
// caller talking to the goroutine directly.
type Bridge struct {
	jobs      chan bridgeJob
	done      chan struct{}
	initAck   chan struct{}
}

// NewBridge constructs a Bridge; call Initialize before Submit.
func NewBridge() *Bridge {
	return &Bridge{
		jobs:    make(chan bridgeJob),
		done:    make(chan struct{}),
		initAck: make(chan struct{}),
	}
}

// Initialize starts the event-loop goroutine and waits for it to
// acknowledge readiness, up to timeout. It never busy-waits: the wait is a
// single channel receive guarded by a timer.
func (b *Bridge) Initialize(timeout time.Duration) error {
	go b.loop()

	select {
	case <-b.initAck:
		return nil
	case <-time.After(timeout):
		return newEvoError(ErrBridgeInitializationFailed, nil, "bridge did not start within %s", timeout)
	}
}

func (b *Bridge) loop() {
	close(b.initAck)
	for {
		select {
		case job := <-b.jobs:
			value, err := job.fn(context.Background())
			job.result <- bridgeResult{value: value, err: err}
		case <-b.done:
			return
		}
	}
}

// Submit runs fn on the bridge's goroutine and blocks for its result,
// bounded by ctx's deadline.
func (b *Bridge) Submit(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	job := bridgeJob{fn: fn, result: make(chan bridgeResult, 1)}

	select {
	case b.jobs <- job:
	case <-ctx.Done():
		return "", newEvoError(ErrLLMTimeout, ctx.Err(), "bridge submit cancelled before dispatch")
	}

	select {
	case res := <-job.result:
		return res.value, res.err
	case <-ctx.Done():
		return "", newEvoError(ErrLLMTimeout, ctx.Err(), "bridge job did not complete before deadline")
	}
}

// Shutdown signals the event loop to stop and returns once the signal is
// sent. It does not wait for the loop goroutine to exit or for a job it is
// running to finish, and it does not close the client's idle connections.
func (b *Bridge) Shutdown(timeout time.Duration) error {
	closed := make(chan struct{})
	go func() {
		close(b.done)
		close(closed)
	}()

	select {
	case <-closed:
		return nil
	case <-time.After(timeout):
		return newEvoError(ErrBridgeInitializationFailed, nil, "bridge did not shut down within %s", timeout)
	}
}
