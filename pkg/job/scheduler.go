package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultLead             = time.Minute * 5 // how long before a run OnUpcoming fires
	defaultPreCheckAttempts = 30
	defaultPreCheckInterval = time.Second * 10
)

// TaskFunc is a unit of scheduled work.
type TaskFunc func(ctx context.Context) error

// Scheduler runs Task on a cron schedule. Before each run PreCheck must
// pass; it is retried for a while, and the run is skipped if it never
// passes. A run that is still in progress when the next one is due causes
// the next one to be skipped.
type Scheduler struct {
	Task       TaskFunc
	PreCheck   TaskFunc
	OnUpcoming func(runAt time.Time)
	OnError    func(err error)

	Lead             time.Duration
	PreCheckAttempts int
	PreCheckInterval time.Duration

	parser cron.Parser

	mu       sync.Mutex
	expr     string
	schedule cron.Schedule
	nextRun  time.Time
	running  bool
	busy     bool
	lastRun  time.Time
	lastErr  error

	rescheduleCh chan struct{}
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// Status is a snapshot of the scheduler.
type Status struct {
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"nextRun"`
	LastRun   time.Time `json:"lastRun"`
	LastError string    `json:"lastError,omitempty"`
	Running   bool      `json:"running"`
	Busy      bool      `json:"busy"`
}

func NewScheduler(task, preCheck TaskFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Task:             task,
		PreCheck:         preCheck,
		Lead:             defaultLead,
		PreCheckAttempts: defaultPreCheckAttempts,
		PreCheckInterval: defaultPreCheckInterval,
		parser:           cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		rescheduleCh:     make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
	}
}

// Schedule sets the cron expression. It may be called while running.
func (s *Scheduler) Schedule(expr string) error {
	sh, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	s.mu.Lock()
	s.expr = expr
	s.schedule = sh
	s.nextRun = sh.Next(time.Now())
	running := s.running
	s.mu.Unlock()

	if running {
		select {
		case s.rescheduleCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Skip skips the next run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		select {
		case s.rescheduleCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start runs the scheduler in the background until ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops scheduling and waits for the loop to exit. A task already
// running is not interrupted.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Schedule: s.expr,
		NextRun:  s.nextRun,
		LastRun:  s.lastRun,
		Running:  s.running,
		Busy:     s.busy,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("report scheduler stopped")
	}()

	logrus.Debug("report scheduler started")

	for {
		nextRun := s.snapshot()

		var timer *time.Timer
		if nextRun.IsZero() {
			timer = time.NewTimer(time.Hour * 10000)
		} else {
			timer = time.NewTimer(clampWait(time.Until(nextRun) - s.Lead))
		}

		leading := !nextRun.IsZero()
		attempts := 0

	wait:
		for {
			select {
			case <-timer.C:
				if nextRun.IsZero() {
					break wait
				}

				if leading {
					leading = false
					logrus.Infof("report scheduled at %s", nextRun.Format(time.DateTime))
					if s.OnUpcoming != nil {
						go s.OnUpcoming(nextRun)
					}
					timer.Reset(clampWait(time.Until(nextRun)))
					continue
				}

				if s.PreCheck != nil {
					if err := s.PreCheck(ctx); err != nil {
						attempts++
						if attempts == 1 {
							s.fail(fmt.Errorf("precheck failed: %w", err))
						}
						if attempts < s.PreCheckAttempts {
							logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, s.PreCheckAttempts, err, s.PreCheckInterval)
							timer.Reset(s.PreCheckInterval)
							continue
						}
						logrus.Warnf("precheck kept failing, skipping the run at %s", nextRun.Format(time.DateTime))
						s.advance()
						break wait
					}
				}

				s.runTask(ctx, nextRun)
				s.advance()
				break wait
			case <-s.rescheduleCh:
				timer.Stop()
				break wait
			case <-s.stopCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, runAt time.Time) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		logrus.Warnf("previous report still running, skipping the run at %s", runAt.Format(time.DateTime))
		return
	}
	s.busy = true
	s.mu.Unlock()

	logrus.Infof("running scheduled report of %s", runAt.Format(time.DateTime))

	go func() {
		err := s.Task(ctx)

		s.mu.Lock()
		s.busy = false
		s.lastRun = runAt
		s.lastErr = err
		s.mu.Unlock()

		if err != nil {
			s.fail(fmt.Errorf("task failed: %w", err))
		}
	}()
}

func (s *Scheduler) fail(err error) {
	logrus.WithError(err).Error("scheduled report")
	if s.OnError != nil {
		go s.OnError(err)
	}
}

func (s *Scheduler) snapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	next := s.schedule.Next(s.nextRun)
	// Catch up without replaying runs missed while the machine slept.
	if now := time.Now(); next.Before(now) {
		next = s.schedule.Next(now)
	}
	s.nextRun = next
}

func clampWait(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
