package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/LJTian/NewsRelay/internal/controller"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// State 任务状态机：stopped → scheduled → running → scheduled 循环，
// stop 请求让 running 的那一轮跑完后落回 stopped。
type State string

const (
	StateStopped   State = "stopped"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobExists        = errors.New("job already exists")
	ErrAlreadyScheduled = errors.New("job already scheduled")
	ErrAlreadyStopped   = errors.New("job already stopped")
	// ErrJobBusy 同一任务同一时刻最多一轮在跑
	ErrJobBusy = errors.New("job cycle already in flight")
)

// JobSpec 一个定时任务：按 cron 表达式驱动一组信源
type JobSpec struct {
	Name     string   `json:"name"`
	CronSpec string   `json:"cronSpec"`
	Sources  []string `json:"sources"`
}

// JobStatus 任务的对外快照
type JobStatus struct {
	Name        string                   `json:"name"`
	State       State                    `json:"state"`
	CronSpec    string                   `json:"cronSpec"`
	Sources     []string                 `json:"sources"`
	NextRun     *time.Time               `json:"nextRun,omitempty"`
	LastRun     *time.Time               `json:"lastRun,omitempty"`
	LastReports []controller.CycleReport `json:"lastReports,omitempty"`
}

type job struct {
	spec        JobSpec
	state       State
	pendingStop bool
	entryID     cron.EntryID
	hasEntry    bool
	lastRun     *time.Time
	lastReports []controller.CycleReport
}

// Scheduler 持有全部任务并独占其状态，其它组件只读快照
type Scheduler struct {
	cron *cron.Cron
	ctrl *controller.Controller
	log  *zap.SugaredLogger

	mu   sync.Mutex
	jobs map[string]*job

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(ctrl *controller.Controller, log *zap.SugaredLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(),
		ctrl:   ctrl,
		log:    log,
		jobs:   make(map[string]*job),
		runCtx: ctx,
		cancel: cancel,
	}
	s.cron.Start()
	return s
}

// AddJob 登记任务，初始为 stopped，需要 Start 才会排期
func (s *Scheduler) AddJob(spec JobSpec) error {
	if _, err := cron.ParseStandard(spec.CronSpec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[spec.Name]; ok {
		return ErrJobExists
	}
	s.jobs[spec.Name] = &job{spec: spec, state: StateStopped}
	return nil
}

// Start 把任务挂进 cron，stopped → scheduled
func (s *Scheduler) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return ErrJobNotFound
	}
	switch j.state {
	case StateRunning:
		return ErrJobBusy
	case StateScheduled:
		return ErrAlreadyScheduled
	}
	id, err := s.cron.AddFunc(j.spec.CronSpec, func() { s.runScheduled(name) })
	if err != nil {
		return err
	}
	j.entryID = id
	j.hasEntry = true
	j.pendingStop = false
	j.state = StateScheduled
	s.log.Infof("job %s scheduled with %q", name, j.spec.CronSpec)
	return nil
}

// Stop 摘掉 cron 排期。正在跑的那一轮不打断，跑完后任务落回 stopped。
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return ErrJobNotFound
	}
	if j.state == StateStopped {
		return ErrAlreadyStopped
	}
	if j.hasEntry {
		s.cron.Remove(j.entryID)
		j.hasEntry = false
	}
	if j.state == StateRunning {
		j.pendingStop = true
		s.log.Infof("job %s stop requested, waiting for current cycle", name)
		return nil
	}
	j.state = StateStopped
	s.log.Infof("job %s stopped", name)
	return nil
}

// TriggerNow 同步跑一轮并返回各信源报告，不影响原有排期。
// 任务已有一轮在跑时拒绝，调用方稍后重试。
func (s *Scheduler) TriggerNow(name string) ([]controller.CycleReport, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return nil, ErrJobNotFound
	}
	if j.state == StateRunning {
		s.mu.Unlock()
		return nil, ErrJobBusy
	}
	j.state = StateRunning
	s.mu.Unlock()

	return s.execute(name), nil
}

// runScheduled cron 到点回调。上一轮还没跑完就跳过本次触发。
func (s *Scheduler) runScheduled(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if j.state == StateRunning {
		s.mu.Unlock()
		s.log.Warnf("job %s still running, skip this tick", name)
		return
	}
	if !j.hasEntry {
		// Stop 和本次触发赛跑，排期已摘，不再执行
		s.mu.Unlock()
		return
	}
	j.state = StateRunning
	s.mu.Unlock()

	s.execute(name)
}

// execute 跑一轮并恢复状态，调用前任务必须已置为 running
func (s *Scheduler) execute(name string) []controller.CycleReport {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	j := s.jobs[name]
	sources := append([]string(nil), j.spec.Sources...)
	s.mu.Unlock()

	started := time.Now().UTC()
	reports := s.ctrl.RunAll(s.runCtx, sources)

	s.mu.Lock()
	j.lastRun = &started
	j.lastReports = reports
	if j.hasEntry && !j.pendingStop {
		j.state = StateScheduled
	} else {
		j.state = StateStopped
		if j.pendingStop {
			s.log.Infof("job %s stopped after final cycle", name)
		}
	}
	j.pendingStop = false
	s.mu.Unlock()

	return reports
}

// Jobs 返回全部任务快照，按名称排序
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]JobStatus, 0, len(names))
	for _, name := range names {
		out = append(out, s.snapshot(s.jobs[name]))
	}
	return out
}

func (s *Scheduler) JobStatus(name string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return JobStatus{}, ErrJobNotFound
	}
	return s.snapshot(j), nil
}

// snapshot 调用方需持有 s.mu
func (s *Scheduler) snapshot(j *job) JobStatus {
	st := JobStatus{
		Name:        j.spec.Name,
		State:       j.state,
		CronSpec:    j.spec.CronSpec,
		Sources:     append([]string(nil), j.spec.Sources...),
		LastRun:     j.lastRun,
		LastReports: j.lastReports,
	}
	if j.hasEntry {
		if e := s.cron.Entry(j.entryID); !e.Next.IsZero() {
			next := e.Next
			st.NextRun = &next
		}
	}
	return st
}

// Shutdown 取消所有在途轮次的上下文并等待收尾，超时由 ctx 控制
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()
	stopCtx := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
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
