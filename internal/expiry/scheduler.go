package expiry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner executes one reconciliation pass for a subject.
type Runner interface {
	Run(ctx context.Context, studentID string) ([]Outcome, error)
}

// PassFunc observes the result of each pass. Wired to metrics by the
// host process; may be nil.
type PassFunc func(studentID string, outcomes []Outcome, err error, duration time.Duration)

// SchedulerConfig tunes the per-subject reconciliation loop. A
// positive TTL retires a subject's loop after that long, tying loop
// lifetime to the session that activated it; zero keeps loops running
// until stopped.
type SchedulerConfig struct {
	Interval time.Duration
	TTL      time.Duration
	OnPass   PassFunc
	Logger   *zap.Logger
}

// Scheduler owns one periodic reconciliation loop per active subject.
// Each subject's passes run sequentially on a dedicated goroutine: a
// pass always completes before the next tick is served, so a single
// subject's timer can never overlap itself. Loops for different
// subjects are independent.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	ttl      time.Duration
	onPass   PassFunc
	logger   *zap.Logger

	mu       sync.Mutex
	subjects map[string]*subjectLoop
	stopped  bool
}

type subjectLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner Runner, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: cfg.Interval,
		ttl:      cfg.TTL,
		onPass:   cfg.OnPass,
		logger:   cfg.Logger,
		subjects: make(map[string]*subjectLoop),
	}
}

// Start begins periodic reconciliation for the subject, running one
// pass immediately. Calling Start for an already-active subject is a
// no-op.
func (s *Scheduler) Start(subjectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, active := s.subjects[subjectID]; active {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &subjectLoop{cancel: cancel, done: make(chan struct{})}
	s.subjects[subjectID] = loop

	go s.run(ctx, subjectID, loop)
	s.logger.Info("expiry loop started", zap.String("subject_id", subjectID))
}

// Stop halts the subject's loop and waits for any in-flight pass to
// run to completion, so no write can land after Stop returns and no
// pass is ever cut short mid-enrollment. Stopping an inactive subject
// is a no-op.
func (s *Scheduler) Stop(subjectID string) {
	s.mu.Lock()
	loop, active := s.subjects[subjectID]
	if active {
		delete(s.subjects, subjectID)
	}
	s.mu.Unlock()

	if !active {
		return
	}
	loop.cancel()
	<-loop.done
	s.logger.Info("expiry loop stopped", zap.String("subject_id", subjectID))
}

// Shutdown stops every active subject and rejects further Starts.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.stopped = true
	loops := make([]*subjectLoop, 0, len(s.subjects))
	for _, loop := range s.subjects {
		loops = append(loops, loop)
	}
	s.subjects = make(map[string]*subjectLoop)
	s.mu.Unlock()

	for _, loop := range loops {
		loop.cancel()
		<-loop.done
	}
	s.logger.Info("expiry scheduler shut down")
}

// Active reports whether a loop is running for the subject.
func (s *Scheduler) Active(subjectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, active := s.subjects[subjectID]
	return active
}

func (s *Scheduler) run(ctx context.Context, subjectID string, loop *subjectLoop) {
	defer close(loop.done)

	s.pass(ctx, subjectID)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lifetime <-chan time.Time
	if s.ttl > 0 {
		timer := time.NewTimer(s.ttl)
		defer timer.Stop()
		lifetime = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-lifetime:
			s.retire(subjectID, loop)
			return
		case <-ticker.C:
			s.pass(ctx, subjectID)
		}
	}
}

// retire removes a loop that ended on its own. The identity check keeps
// a concurrent Stop/Start from losing a fresh loop under the same key.
func (s *Scheduler) retire(subjectID string, loop *subjectLoop) {
	s.mu.Lock()
	if current, ok := s.subjects[subjectID]; ok && current == loop {
		delete(s.subjects, subjectID)
	}
	s.mu.Unlock()
	s.logger.Info("expiry loop retired", zap.String("subject_id", subjectID))
}

func (s *Scheduler) pass(ctx context.Context, subjectID string) {
	if ctx.Err() != nil {
		return
	}
	// A started pass always runs to completion. Cancelling mid-pass
	// could land a removal without its notification, so the loop
	// context only decides whether the next pass begins.
	start := time.Now()
	outcomes, err := s.runner.Run(context.WithoutCancel(ctx), subjectID)
	if err != nil {
		// The next tick retries; the fixed period is the backoff.
		s.logger.Warn("expiry pass failed", zap.String("subject_id", subjectID), zap.Error(err))
	}
	if s.onPass != nil {
		s.onPass(subjectID, outcomes, err, time.Since(start))
	}
}
