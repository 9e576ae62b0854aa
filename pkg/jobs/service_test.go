package jobs

import (
	"context"
	"testing"

	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/models"
)

func createScan(t *testing.T, svc *Service, path, status string) *models.Job {
	t.Helper()
	job := &models.Job{
		Type:       models.JobTypeScan,
		Status:     status,
		DataParsed: &models.JobScanData{Path: path},
	}
	require.NoError(t, svc.CreateJob(context.Background(), job))
	return job
}

func TestCreateAndRetrieveJob(t *testing.T) {
	t.Parallel()
	svc := NewService(testgen.NewTestDB(t))
	ctx := context.Background()

	job := createScan(t, svc, "/library/a", models.JobStatusPending)
	assert.NotZero(t, job.ID)
	assert.JSONEq(t, `{"path":"/library/a"}`, job.Data)

	got, err := svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeScan, got.Type)
	require.IsType(t, &models.JobScanData{}, got.DataParsed)
	assert.Equal(t, "/library/a", got.DataParsed.(*models.JobScanData).Path)

	_, err = svc.RetrieveJob(ctx, RetrieveJobOptions{ID: pointerutil.Int(999)})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))
}

func TestHasActiveScan(t *testing.T) {
	t.Parallel()
	svc := NewService(testgen.NewTestDB(t))
	ctx := context.Background()

	active, err := svc.HasActiveScan(ctx, "/library")
	require.NoError(t, err)
	assert.False(t, active)

	createScan(t, svc, "/library", models.JobStatusCompleted)
	createScan(t, svc, "/library", models.JobStatusFailed)
	active, err = svc.HasActiveScan(ctx, "/library")
	require.NoError(t, err)
	assert.False(t, active)

	job := createScan(t, svc, "/library", models.JobStatusPending)
	active, err = svc.HasActiveScan(ctx, "/library")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = svc.HasActiveScan(ctx, "/library/other")
	require.NoError(t, err)
	assert.False(t, active)

	job.Status = models.JobStatusInProgress
	require.NoError(t, svc.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"status"}}))
	active, err = svc.HasActiveScan(ctx, "/library")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	svc := NewService(testgen.NewTestDB(t))
	ctx := context.Background()

	first := createScan(t, svc, "/a", models.JobStatusPending)
	second := createScan(t, svc, "/b", models.JobStatusCompleted)
	processID := "abc"
	second.ProcessID = &processID
	require.NoError(t, svc.UpdateJob(ctx, second, UpdateJobOptions{Columns: []string{"process_id"}}))

	all, total, err := svc.ListJobsWithTotal(ctx, ListJobsOptions{Limit: pointerutil.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, all, 1)
	assert.Equal(t, first.ID, all[0].ID)

	newest, err := svc.ListJobs(ctx, ListJobsOptions{NewestFirst: true})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, second.ID, newest[0].ID)

	pending, err := svc.ListJobs(ctx, ListJobsOptions{Statuses: []string{models.JobStatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	unclaimed, err := svc.ListJobs(ctx, ListJobsOptions{ProcessIDToExclude: &processID})
	require.NoError(t, err)
	require.Len(t, unclaimed, 1)
	assert.Equal(t, first.ID, unclaimed[0].ID)
}

func TestUpdateJob_NotFound(t *testing.T) {
	t.Parallel()
	svc := NewService(testgen.NewTestDB(t))

	err := svc.UpdateJob(context.Background(), &models.Job{ID: 42}, UpdateJobOptions{Columns: []string{"status"}})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))
	assert.NoError(t, svc.UpdateJob(context.Background(), &models.Job{ID: 42}, UpdateJobOptions{}))
}
