// Package scheduler runs the background jobs of the process on cron
// schedules or after a one-off delay.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"delivery-backend/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job receives a context that is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

type delayed struct {
	name  string
	delay time.Duration
	job   Job
}

type Scheduler struct {
	cron   *cron.Cron
	log    logrus.FieldLogger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
	pending []delayed
	timers  []*time.Timer
}

func New(log logrus.FieldLogger, opts ...cron.Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	opts = append([]cron.Option{cron.WithLogger(cronLogger{log})}, opts...)
	return &Scheduler{
		cron:   cron.New(opts...),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under a standard five-field spec or a descriptor such
// as "@every 1h".
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "spec": spec}).Info("job scheduled")
	return nil
}

// AddDelayed runs job once, delay after Start.
func (s *Scheduler) AddDelayed(name string, delay time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, delayed{name: name, delay: delay, job: job})
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.pending {
		d := d
		s.timers = append(s.timers, time.AfterFunc(d.delay, func() { s.run(d.name, d.job) }))
	}
	s.pending = nil
	s.cron.Start()
}

// Stop cancels the job context, prevents new runs and waits for running
// jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(name string, job Job) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	log := s.log.WithField("job", name)
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.WithField("stack", string(debug.Stack())).Error(err)
		}
		metrics.ObserveJob(name, err)
		if err != nil {
			log.WithError(err).Error("job failed")
			return
		}
		log.WithField("duration", time.Since(start).String()).Debug("job finished")
	}()
	err = job(s.ctx)
}

// cronLogger routes cron's own messages through logrus.
type cronLogger struct {
	log logrus.FieldLogger
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.WithFields(fields(kv)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.WithFields(fields(kv)).WithError(err).Error("cron: " + msg)
}
