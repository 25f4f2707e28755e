package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/highlightr/highlightr-agent/internal/clip"
	"github.com/highlightr/highlightr-agent/internal/clipjob"
	"github.com/highlightr/highlightr-agent/internal/db"
	"github.com/highlightr/highlightr-agent/internal/retriever"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func sampleJob(id string, created time.Time) *Job {
	return &Job{
		ID:             id,
		VideoID:        "vid-1",
		Text:           "提取最精彩的进球瞬间！！",
		SportType:      clip.SportFootball,
		TargetDuration: 45,
		Status:         clip.StatusProcessing,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestRepository_UpsertJobUpdatesStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertJob(ctx, sampleJob("clip-1", created)))

	done := sampleJob("clip-1", created)
	done.Status = clip.StatusCompleted
	done.DownloadURL = "/api/videos/vid-1/clip/clip-1/file"
	done.Text = "ignored on update"
	done.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, repo.UpsertJob(ctx, done))

	got, err := repo.GetJob(ctx, "clip-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, clip.StatusCompleted, got.Status)
	assert.Equal(t, "/api/videos/vid-1/clip/clip-1/file", got.DownloadURL)
	assert.Equal(t, "提取最精彩的进球瞬间！！", got.Text)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, created.Add(time.Minute), got.UpdatedAt)
}

func TestRepository_GetJobMissing(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.GetJob(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_ListJobsNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.UpsertJob(ctx, sampleJob(id, base.Add(time.Duration(i)*time.Minute))))
	}

	jobs, err := repo.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)

	byVideo, err := repo.ListJobsByVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.Len(t, byVideo, 3)
	assert.Equal(t, "a", byVideo[0].ID)
}

func TestRepository_ArtifactAndSavedPath(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertJob(ctx, sampleJob("clip-1", time.Now())))

	require.NoError(t, repo.SetArtifact(ctx, "clip-1", "highlight.mp4", 4096))
	require.NoError(t, repo.SetSavedPath(ctx, "clip-1", "/home/me/Videos/highlight.mp4"))

	// Status updates keep the artifact columns.
	require.NoError(t, repo.UpsertJob(ctx, sampleJob("clip-1", time.Now())))

	got, err := repo.GetJob(ctx, "clip-1")
	require.NoError(t, err)
	assert.Equal(t, "highlight.mp4", got.ArtifactFilename)
	assert.Equal(t, int64(4096), got.ArtifactSize)
	assert.Equal(t, "/home/me/Videos/highlight.mp4", got.SavedPath)
}

func TestRepository_Videos(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	v := &Video{ID: "vid-1", Filename: "match.mov", Size: 50 << 20, UploadedAt: time.Now()}
	require.NoError(t, repo.UpsertVideo(ctx, v))
	require.NoError(t, repo.UpsertJob(ctx, sampleJob("clip-1", time.Now())))

	got, err := repo.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "match.mov", got.Filename)

	require.NoError(t, repo.DeleteVideo(ctx, "vid-1"))
	got, err = repo.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	jobs, err := repo.ListJobsByVideo(ctx, "vid-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestEnsureConfig(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	calls := 0
	gen := func() (string, error) {
		calls++
		return "device-123", nil
	}

	first, err := EnsureConfig(ctx, repo, ConfigKeyDeviceID, gen)
	require.NoError(t, err)
	second, err := EnsureConfig(ctx, repo, ConfigKeyDeviceID, gen)
	require.NoError(t, err)

	assert.Equal(t, "device-123", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	require.NoError(t, repo.SetConfig(ctx, ConfigKeyDeviceID, "device-456"))
	v, err := repo.GetConfig(ctx, ConfigKeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "device-456", v)

	missing, err := repo.GetConfig(ctx, "unset")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestEnsureConfig_GeneratorError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	entropy := errors.New("entropy source unavailable")
	_, err := EnsureConfig(ctx, repo, ConfigKeyAuthToken, func() (string, error) {
		return "", entropy
	})
	require.ErrorIs(t, err, entropy)

	v, err := repo.GetConfig(ctx, ConfigKeyAuthToken)
	require.NoError(t, err)
	assert.Empty(t, v, "nothing stored after a failed generation")

	v, err = EnsureConfig(ctx, repo, ConfigKeyAuthToken, func() (string, error) {
		return "token-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "token-1", v)
}

func TestRecorder_JournalsTransitions(t *testing.T) {
	repo := newTestRepo(t)
	rec := NewRecorder(repo, testLogger())

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	asset := &clip.VideoAsset{ID: "vid-1", Filename: "match.mov", Size: 1024, UploadedAt: created}
	req := &clip.ClipRequest{
		ID:             "placeholder",
		VideoID:        "vid-1",
		Text:           "提取最精彩的进球瞬间！！",
		SportType:      clip.SportFootball,
		TargetDuration: 45,
		Status:         clip.StatusPending,
		CreatedAt:      created,
		UpdatedAt:      created,
	}

	rec.RecordVideo(asset)
	rec.Observe(clipjob.Snapshot{State: clipjob.StateSubmitting, Asset: asset, Request: req})

	accepted := *req
	accepted.ID = "clip-1"
	rec.Observe(clipjob.Snapshot{State: clipjob.StatePolling, Asset: asset, Request: &accepted})

	completed := accepted
	completed.Status = clip.StatusCompleted
	art := &retriever.Artifact{Handle: "h1", Filename: "highlight.mp4", Size: 4096}
	rec.Observe(clipjob.Snapshot{State: clipjob.StateCompleted, Asset: asset, Request: &completed, Artifact: art})
	rec.Observe(clipjob.Snapshot{State: clipjob.StateCompleted, Asset: asset, Request: &completed, Artifact: art})
	rec.RecordSaved("clip-1", "/home/me/Videos/highlight.mp4")
	rec.Close()
	rec.Close()

	ctx := context.Background()
	placeholder, err := repo.GetJob(ctx, "placeholder")
	require.NoError(t, err)
	assert.Nil(t, placeholder)

	got, err := repo.GetJob(ctx, "clip-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, clip.StatusCompleted, got.Status)
	assert.Equal(t, "highlight.mp4", got.ArtifactFilename)
	assert.Equal(t, int64(4096), got.ArtifactSize)
	assert.Equal(t, "/home/me/Videos/highlight.mp4", got.SavedPath)

	video, err := repo.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.Equal(t, "match.mov", video.Filename)
}

// stalledRepo holds every video write until release is closed.
type stalledRepo struct {
	Repository
	entered chan struct{}
	release chan struct{}
}

func (r *stalledRepo) UpsertVideo(ctx context.Context, v *Video) error {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return r.Repository.UpsertVideo(ctx, v)
}

func TestRecorder_FullQueueDoesNotBlockCallers(t *testing.T) {
	repo := &stalledRepo{
		Repository: newTestRepo(t),
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	rec := NewRecorder(repo, testLogger())

	rec.RecordVideo(&clip.VideoAsset{ID: "vid-0", Filename: "first.mp4", Size: 1})
	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never picked up the first record")
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < recorderQueue*3; i++ {
			rec.RecordVideo(&clip.VideoAsset{ID: "vid-extra", Filename: "extra.mp4", Size: 1})
		}
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("recording blocked on a stalled writer")
	}

	close(repo.release)
	rec.Close()

	v, err := repo.GetVideo(context.Background(), "vid-0")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "first.mp4", v.Filename)
}

func TestRecorder_FailedSubmissionKeptWithError(t *testing.T) {
	repo := newTestRepo(t)
	rec := NewRecorder(repo, testLogger())

	req := clip.NewRequest("vid-1", clip.ClipDraft{Text: "best goals of the match", TargetDuration: 30})
	rec.Observe(clipjob.Snapshot{State: clipjob.StateFailed, Request: req, Error: "submit clip: rejected (500)"})
	rec.Close()

	// Writes after close are dropped.
	rec.Observe(clipjob.Snapshot{State: clipjob.StatePolling, Request: req})

	got, err := repo.GetJob(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, clip.StatusError, got.Status)
	assert.Equal(t, "submit clip: rejected (500)", got.Error)
	assert.Equal(t, clip.SportAuto, got.SportType)
}
