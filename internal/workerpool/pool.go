// Package workerpool is the shared worker pool the spec's endpoints submit
// background activity to: accept loops, receive loops, broadcast loops,
// per-client handlers and application callbacks. It stands in for the
// original's thread-pool-of-futures, generalized onto errgroup.Group.
package workerpool

import (
	"golang.org/x/sync/errgroup"

	"github.com/nilusink/trackfusion/internal/telemetry"
)

// Pool runs submitted tasks on their own goroutine and isolates panics or
// errors to that single task, so one failing activity (a dropped client,
// a bad callback) never tears down its siblings.
type Pool struct {
	grp errgroup.Group
	log *telemetry.Logger
}

// New builds a Pool that logs task failures through log.
func New(log *telemetry.Logger) *Pool {
	if log == nil {
		log = telemetry.Default
	}
	return &Pool{log: log}
}

// Submit runs fn on a pool-owned goroutine. Panics are recovered and
// logged; they never propagate to the caller or to other tasks.
func (p *Pool) Submit(fn func()) {
	p.grp.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				p.log.Errorf("workerpool: task panicked: %v", r)
			}
		}()
		fn()
		return nil
	})
}

// SubmitNamed is like Submit but for tasks that can fail with an error
// worth logging under a name (e.g. "client.receiveLoop").
func (p *Pool) SubmitNamed(name string, fn func() error) {
	p.grp.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				p.log.Errorf("workerpool: task %q panicked: %v", name, r)
			}
		}()
		if err := fn(); err != nil {
			p.log.Errorf("workerpool: task %q exited with error: %v", name, err)
		}
		return nil
	})
}

// Wait blocks until every submitted task has returned. Used at process
// shutdown once every endpoint has been told to stop.
func (p *Pool) Wait() { _ = p.grp.Wait() }
