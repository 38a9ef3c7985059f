package cron

import (
	"context"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/interfaces"
	cron_config "github.com/customeros/imagestack/internal/cron/config"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/tracing"
)

const (
	// GroupArchiver serializes feed archiver runs within a pod
	GroupArchiver = "archiver"
	// GroupInbox serializes IMAP inbox polls within a pod
	GroupInbox = "inbox"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second

	leaseName = "imagestack-cron-leader"
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupArchiver: new(sync.Mutex),
		GroupInbox:    new(sync.Mutex),
	},
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	cronMu   sync.Mutex
	k8s      kubernetes.Interface
	stopCh   chan struct{}
	stopOnce sync.Once
	jobIDs   map[string]cronv3.EntryID
	archiver interfaces.Archiver
	inbox    interfaces.InboxPoller
	schedule cron_config.Config
}

// NewCronManager builds the scheduler. archiver and inbox may be nil; their jobs are then not registered.
func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, archiver interfaces.Archiver, inbox interfaces.InboxPoller) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		k8s:      k8s,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		archiver: archiver,
		inbox:    inbox,
	}
}

// Start initializes and starts the cron manager with leader election.
// Without a kubernetes client, or in local dev mode, jobs run on this pod directly.
func (cm *CronManager) Start(podName, namespace string) error {
	var schedule cron_config.Config
	if err := env.Parse(&schedule); err != nil {
		return imagestack_errors.Config("CronManager.Start", err)
	}
	cm.schedule = schedule

	if cm.k8s == nil || cm.cfg.AppConfig.LocalDev {
		cm.log.Info("Starting cron manager in local mode")
		return cm.StartCron()
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      leaseName,
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					if err := cm.StartCron(); err != nil {
						cm.log.Errorf("Failed to start crons as leader: %v", err)
					}
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.stopCron()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-cm.stopCh
			cancel()
		}()
		le.Run(ctx)
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		return cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager, waiting for running jobs.
func (cm *CronManager) Stop() {
	cm.stopCron()
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

func (cm *CronManager) stopCron() {
	cm.cronMu.Lock()
	c := cm.cron
	cm.cron = nil
	cm.cronMu.Unlock()

	if c != nil {
		cm.log.Info("Stopping cron manager")
		<-c.Stop().Done()
	}
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) error {
	if cm.schedule.CronScheduleHeartbeat != "" {
		podName := cm.cfg.AppConfig.PodName
		id, err := c.AddFunc(cm.schedule.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			return imagestack_errors.Config("CronManager.registerJobs", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cm.schedule.CronScheduleHeartbeat)
	}

	if cm.schedule.CronScheduleArchiver != "" && cm.archiver != nil {
		id, err := c.AddFunc(cm.schedule.CronScheduleArchiver, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupArchiver].Lock()
			defer jobLocks.locks[GroupArchiver].Unlock()
			cm.runArchiver()
		})
		if err != nil {
			return imagestack_errors.Config("CronManager.registerJobs", err)
		}
		cm.jobIDs["archiver"] = id
		cm.log.Infof("Registered archiver job with schedule: %s", cm.schedule.CronScheduleArchiver)
	}

	if cm.schedule.CronScheduleInboxPoll != "" && cm.inbox != nil {
		id, err := c.AddFunc(cm.schedule.CronScheduleInboxPoll, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupInbox].Lock()
			defer jobLocks.locks[GroupInbox].Unlock()
			cm.pollInbox()
		})
		if err != nil {
			return imagestack_errors.Config("CronManager.registerJobs", err)
		}
		cm.jobIDs["inbox"] = id
		cm.log.Infof("Registered inbox poll job with schedule: %s", cm.schedule.CronScheduleInboxPoll)
	}
	return nil
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() error {
	cm.cronMu.Lock()
	defer cm.cronMu.Unlock()
	if cm.cron != nil {
		return nil
	}

	cm.log.Info("Starting cron manager")
	c := cronv3.New(
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	)
	if err := cm.registerJobs(c); err != nil {
		return err
	}
	c.Start()
	cm.cron = c
	return nil
}

func (cm *CronManager) runArchiver() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.runArchiver")
	defer span.Finish()
	tracing.SetDefaultCronSpanTags(ctx, span)

	report, err := cm.archiver.Run(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Archiver run failed: %v", err)
		return
	}
	tracing.LogObjectAsJson(span, "report", report)
	cm.log.Infof("Archiver run %s done: %d stored, %d pending retry, %d failed",
		report.RunID, report.Count(enum.EntrySuccess), report.Count(enum.EntryTransientFailure), report.Count(enum.EntryPermanentFailure))
}

func (cm *CronManager) pollInbox() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.pollInbox")
	defer span.Finish()
	tracing.SetDefaultCronSpanTags(ctx, span)

	report, err := cm.inbox.Poll(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Inbox poll failed: %v", err)
		return
	}
	if len(report.Results) > 0 {
		cm.log.Infof("Inbox poll done: %d stored, %d rejected, %d failed",
			report.Count(enum.IngestStored), report.Count(enum.IngestRejected), report.Count(enum.IngestFailed))
	}
}
