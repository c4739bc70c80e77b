package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPoolClosed 工作池已关闭 / ErrPoolClosed is returned by Submit after Close
var ErrPoolClosed = errors.New("pipeline: worker pool closed")

// Job 提交到工作池的单个任务
// Job is one unit of work submitted to the pool
type Job struct {
	Name string

	ctx  context.Context
	fn   func(context.Context) error
	done chan struct{}
	err  error
}

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err returns the job's error once Done is closed.
func (j *Job) Err() error {
	<-j.done
	return j.err
}

// Wait blocks until the job finishes or ctx ends. A ctx ending does not
// cancel the job itself.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-j.done:
		return j.err
	}
}

// Pool 固定数量 goroutine 的工作池
// Pool runs jobs on a fixed number of worker goroutines
type Pool struct {
	queue  chan *Job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{queue: make(chan *Job, workers*4), logger: logger}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for j := range p.queue {
		j.err = p.run(j)
		close(j.done)
	}
}

func (p *Pool) run(j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
			p.logger.Error("job panicked", "job", j.Name, "panic", r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.fn(j.ctx)
}

// Submit queues fn to run with jobCtx. It blocks while the queue is full
// until jobCtx ends.
func (p *Pool) Submit(jobCtx context.Context, name string, fn func(context.Context) error) (*Job, error) {
	j := &Job{Name: name, ctx: jobCtx, fn: fn, done: make(chan struct{})}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	select {
	case p.queue <- j:
		return j, nil
	case <-jobCtx.Done():
		return nil, jobCtx.Err()
	}
}

// Do submits fn and waits for it under ctx.
func (p *Pool) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	j, err := p.Submit(ctx, name, fn)
	if err != nil {
		return err
	}
	return j.Wait(ctx)
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
