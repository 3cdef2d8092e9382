package jobs

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/omnistore/internal/metrics"
	cron "github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type CronJob interface {
	Schedule() string
	Job
}

// TaskExecutor runs cron jobs on their schedule, never overlapping a job with
// itself, and keeps long-running jobs alive until Stop.
type TaskExecutor struct {
	cron     *cron.Cron
	jobs     []Job
	cronJobs []CronJob
	running  mapset.Set[string]
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewTaskExecutor(jobs []Job, cronJobs []CronJob) *TaskExecutor {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskExecutor{
		cron:     cron.New(),
		jobs:     jobs,
		cronJobs: cronJobs,
		running:  mapset.NewSet[string](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run schedules the cron jobs and starts the long-running ones.
func (t *TaskExecutor) Run() error {
	for _, job := range t.cronJobs {
		job := job
		err := t.cron.AddFunc(job.Schedule(), func() {
			t.Once(job)
		})
		if err != nil {
			logrus.Errorf("failed to add task %s to cron: %v", job.Name(), err)
			return err
		}
	}

	for _, job := range t.jobs {
		job := job
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.keepAlive(job)
		}()
	}

	t.cron.Start()
	return nil
}

// Once runs job now unless a previous run is still in flight, and reports
// whether it ran.
func (t *TaskExecutor) Once(job Job) bool {
	// the set is thread safe and Add reports whether the name was absent
	if !t.running.Add(job.Name()) {
		logrus.Warnf("task %s is already running", job.Name())
		return false
	}
	defer t.running.Remove(job.Name())

	start := time.Now()
	err := job.Run(t.ctx)
	metrics.RecordJobRun(job.Name(), err == nil)
	if err != nil {
		logrus.Errorf("task %s failed after %v: %v", job.Name(), time.Since(start), err)
		return true
	}
	logrus.Debugf("task %s finished in %v", job.Name(), time.Since(start))
	return true
}

// keepAlive restarts a long-running job that returns before Stop.
func (t *TaskExecutor) keepAlive(job Job) {
	for t.ctx.Err() == nil {
		t.Once(job)

		select {
		case <-t.ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

func (t *TaskExecutor) Stop() {
	logrus.Infof("stopping all tasks")
	t.cron.Stop()
	t.cancel()
	t.wg.Wait()
}
