package cron

import (
	"context"
	"testing"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"

	"github.com/customeros/imagestack/config"
	cron_config "github.com/customeros/imagestack/internal/cron/config"
	"github.com/customeros/imagestack/internal/enum"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/models"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Run(ctx context.Context) (*models.RunReport, error) {
	args := m.Called(ctx)
	report, _ := args.Get(0).(*models.RunReport)
	return report, args.Error(1)
}

type mockInbox struct {
	mock.Mock
}

func (m *mockInbox) Poll(ctx context.Context) (*models.PollReport, error) {
	args := m.Called(ctx)
	report, _ := args.Get(0).(*models.PollReport)
	return report, args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{
		AppConfig: &config.AppConfig{PodName: "imagestack-0", LocalDev: true},
		Logger:    &logger.Config{LogLevel: "info"},
	}
}

func TestNewCronManager(t *testing.T) {
	cfg := testConfig()
	log := logger.NewNopLogger()
	k8s := &mockKubernetesInterface{}

	cm := NewCronManager(cfg, log, k8s, nil, nil)

	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_RegisterJobs(t *testing.T) {
	cm := NewCronManager(testConfig(), logger.NewNopLogger(), nil, &mockArchiver{}, nil)
	cm.schedule = cron_config.Config{
		CronScheduleHeartbeat: "0 * * * * *",
		CronScheduleArchiver:  "0 0 3 * * *",
	}

	require.NoError(t, cm.registerJobs(cronv3.New(cronv3.WithSeconds())))
	assert.Len(t, cm.jobIDs, 2)
	assert.Contains(t, cm.jobIDs, "archiver")
}

func TestCronManager_RegisterInboxJob(t *testing.T) {
	cm := NewCronManager(testConfig(), logger.NewNopLogger(), nil, nil, &mockInbox{})
	cm.schedule = cron_config.Config{
		CronScheduleArchiver:  "0 0 3 * * *",
		CronScheduleInboxPoll: "0 */5 * * * *",
	}

	require.NoError(t, cm.registerJobs(cronv3.New(cronv3.WithSeconds())))
	assert.Contains(t, cm.jobIDs, "inbox")
	assert.NotContains(t, cm.jobIDs, "archiver")
}

func TestCronManager_PollInbox(t *testing.T) {
	inbox := &mockInbox{}
	report := &models.PollReport{Folder: "INBOX", Results: []models.PolledResult{{UID: 4, Outcome: enum.IngestStored}}}
	inbox.On("Poll", mock.Anything).Return(report, nil).Once()

	cm := NewCronManager(testConfig(), logger.NewNopLogger(), nil, nil, inbox)
	cm.pollInbox()

	inbox.AssertExpectations(t)
}

func TestCronManager_RegisterJobsRejectsBadSchedule(t *testing.T) {
	cm := NewCronManager(testConfig(), logger.NewNopLogger(), nil, &mockArchiver{}, nil)
	cm.schedule = cron_config.Config{CronScheduleArchiver: "not a schedule"}

	assert.Error(t, cm.registerJobs(cronv3.New(cronv3.WithSeconds())))
}

func TestCronManager_RunArchiver(t *testing.T) {
	archiver := &mockArchiver{}
	report := &models.RunReport{RunID: "run-1", Results: []models.EntryResult{{PropertyID: "12345", Status: enum.EntrySuccess}}}
	archiver.On("Run", mock.Anything).Return(report, nil).Once()

	cm := NewCronManager(testConfig(), logger.NewNopLogger(), nil, archiver, nil)
	cm.runArchiver()

	archiver.AssertExpectations(t)
}

func TestCronManager_StartLocalAndStop(t *testing.T) {
	t.Setenv("CRON_SCHEDULE_ARCHIVER", "0 0 3 * * *")
	t.Setenv("CRON_SCHEDULE_HEARTBEAT", "")

	cm := NewCronManager(testConfig(), logger.NewNopLogger(), nil, &mockArchiver{}, nil)
	require.NoError(t, cm.Start("imagestack-0", "default"))
	assert.NotNil(t, cm.cron)
	assert.Contains(t, cm.jobIDs, "archiver")

	cm.Stop()
	cm.Stop()

	select {
	case <-cm.stopCh:
	default:
		t.Error("Stop channel was not closed")
	}
	assert.Nil(t, cm.cron)
}
