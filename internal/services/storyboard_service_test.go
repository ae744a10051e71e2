// internal/services/storyboard_service_test.go
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/StoryboardForge/internal/imagegen"
	"github.com/Corphon/StoryboardForge/internal/models"
	"github.com/Corphon/StoryboardForge/internal/storage"
)

var fakeImageBase64 = base64.StdEncoding.EncodeToString([]byte("fake-image-bytes"))

// fakeImageProvider 按提示词内容决定结果的测试提供者
// "policy trigger" 触发策略拒绝（激进净化后的重试放行），
// "generation failure" 触发普通失败，"bad payload" 返回非法base64
type fakeImageProvider struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration
}

func (f *fakeImageProvider) Initialize(config map[string]string) error { return nil }
func (f *fakeImageProvider) GetName() string                           { return "fake" }
func (f *fakeImageProvider) GetSupportedModels() []string              { return []string{"fake-image"} }

func (f *fakeImageProvider) GenerateImage(ctx context.Context, req imagegen.ImageRequest) (*imagegen.ImageResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Prompt)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	switch {
	case strings.Contains(req.Prompt, "policy trigger") && !strings.HasPrefix(req.Prompt, aggressivePrefix):
		return nil, imagegen.ErrPolicyRejected
	case strings.Contains(req.Prompt, "generation failure"):
		return nil, errors.New("upstream unavailable")
	case strings.Contains(req.Prompt, "bad payload"):
		return &imagegen.ImageResponse{ImageBase64: "!!!not-base64!!!"}, nil
	}

	return &imagegen.ImageResponse{ImageBase64: fakeImageBase64, MIMEType: "image/png"}, nil
}

func (f *fakeImageProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestStoryboardService(t *testing.T, provider imagegen.Provider) *StoryboardService {
	t.Helper()

	fileStorage, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	svc := NewStoryboardService(NewSanitizerService(nil), fileStorage, nil, NewProgressService())
	svc.SetImageProvider(provider)
	return svc
}

func plainShots(n int) []models.Shot {
	shots := make([]models.Shot, n)
	for i := range shots {
		shots[i] = models.Shot{
			ShotNumber:  i + 1,
			SceneNumber: 1,
			ShotSize:    models.ShotSizeMedium,
			Description: fmt.Sprintf("calm scene number %d", i),
		}
	}
	return shots
}

func waitDone(t *testing.T, svc *StoryboardService, jobID string, sceneIndex int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, svc.WaitForCompletion(ctx, jobID, sceneIndex))
}

// 单项策略失败写入哨兵但不中断批次，completed 仍计满
func TestStartGeneration_PolicyErrorDoesNotBlockBatch(t *testing.T) {
	svc := newTestStoryboardService(t, &fakeImageProvider{})

	shots := plainShots(5)
	shots[2].Description = "policy trigger please"

	_, err := svc.StartGeneration(context.Background(), "job-1", 0, shots)
	require.NoError(t, err)
	waitDone(t, svc, "job-1", 0)

	progress, err := svc.GetProgress("job-1", 0)
	require.NoError(t, err)

	assert.Equal(t, models.GenerationDone, progress.Status)
	assert.Equal(t, 5, progress.Total)
	assert.Equal(t, 5, progress.Completed)
	assert.True(t, progress.Done())

	assert.Equal(t, models.FrameErrContentPolicy, progress.Items[2].ImageData)
	for _, i := range []int{0, 1, 3, 4} {
		require.NotNil(t, progress.Items[i])
		assert.Equal(t, fakeImageBase64, progress.Items[i].ImageData)
	}
}

func TestStartGeneration_ErrorClassification(t *testing.T) {
	svc := newTestStoryboardService(t, &fakeImageProvider{})

	shots := plainShots(3)
	shots[0].Description = "generation failure here"
	shots[1].Description = "bad payload here"

	_, err := svc.StartGeneration(context.Background(), "job-2", 0, shots)
	require.NoError(t, err)
	waitDone(t, svc, "job-2", 0)

	progress, err := svc.GetProgress("job-2", 0)
	require.NoError(t, err)

	assert.Equal(t, models.FrameErrGeneration, progress.Items[0].ImageData)
	assert.Equal(t, models.FrameErrProcessing, progress.Items[1].ImageData)
	assert.Equal(t, fakeImageBase64, progress.Items[2].ImageData)
}

// 同一 (job, scene) 上运行中的批次拒绝重复启动
func TestStartGeneration_ConflictWhileRunning(t *testing.T) {
	provider := &fakeImageProvider{delay: 200 * time.Millisecond}
	svc := newTestStoryboardService(t, provider)

	_, err := svc.StartGeneration(context.Background(), "job-3", 0, plainShots(4))
	require.NoError(t, err)

	_, err = svc.StartGeneration(context.Background(), "job-3", 0, plainShots(4))
	assert.ErrorIs(t, err, ErrBatchRunning)

	// 不同场景槽位互不干扰
	_, err = svc.StartGeneration(context.Background(), "job-3", 1, plainShots(2))
	require.NoError(t, err)

	waitDone(t, svc, "job-3", 0)
	waitDone(t, svc, "job-3", 1)

	// 完成后允许重新启动
	_, err = svc.StartGeneration(context.Background(), "job-3", 0, plainShots(2))
	require.NoError(t, err)
	waitDone(t, svc, "job-3", 0)
}

func TestStartGeneration_Validation(t *testing.T) {
	svc := newTestStoryboardService(t, &fakeImageProvider{})

	_, err := svc.StartGeneration(context.Background(), "job-4", 0, nil)
	require.Error(t, err)

	svc.SetImageProvider(nil)
	_, err = svc.StartGeneration(context.Background(), "job-4", 0, plainShots(1))
	require.Error(t, err)
}

// 准入钩子失败时拒绝启动
func TestStartGeneration_PreCheck(t *testing.T) {
	svc := newTestStoryboardService(t, &fakeImageProvider{})
	svc.PreCheck = func(ctx context.Context, jobID string) error {
		return errors.New("quota exhausted")
	}

	_, err := svc.StartGeneration(context.Background(), "job-5", 0, plainShots(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exhausted")
}

func TestGetProgress_UnknownBatch(t *testing.T) {
	svc := newTestStoryboardService(t, &fakeImageProvider{})

	_, err := svc.GetProgress("missing", 0)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

// 单帧重新生成只影响目标槽位
func TestRegenerateItem(t *testing.T) {
	provider := &fakeImageProvider{}
	svc := newTestStoryboardService(t, provider)

	shots := plainShots(4)
	shots[1].Description = "policy trigger please"

	_, err := svc.StartGeneration(context.Background(), "job-6", 0, shots)
	require.NoError(t, err)
	waitDone(t, svc, "job-6", 0)

	before, err := svc.GetProgress("job-6", 0)
	require.NoError(t, err)
	assert.Equal(t, models.FrameErrContentPolicy, before.Items[1].ImageData)

	// 策略失败的槽位重试走激进净化，fake提供者对激进前缀放行
	frame, err := svc.RegenerateItem(context.Background(), "job-6", 0, 1, "softer tone")
	require.NoError(t, err)
	assert.Equal(t, fakeImageBase64, frame.ImageData)
	assert.True(t, strings.HasPrefix(frame.PromptUsed, aggressivePrefix))
	assert.Contains(t, frame.PromptUsed, "softer tone")

	after, err := svc.GetProgress("job-6", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, after.Completed)
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, before.Items[i].ImageData, after.Items[i].ImageData, "其他槽位不受影响")
	}
}

func TestRegenerateItem_Validation(t *testing.T) {
	svc := newTestStoryboardService(t, &fakeImageProvider{})

	_, err := svc.StartGeneration(context.Background(), "job-7", 0, plainShots(2))
	require.NoError(t, err)
	waitDone(t, svc, "job-7", 0)

	_, err = svc.RegenerateItem(context.Background(), "job-7", 0, 99, "mod")
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = svc.RegenerateItem(context.Background(), "job-7", 0, -1, "mod")
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = svc.RegenerateItem(context.Background(), "job-7", 0, 0, "   ")
	assert.ErrorIs(t, err, ErrEmptyModification)

	_, err = svc.RegenerateItem(context.Background(), "missing", 0, 0, "mod")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

// 批量重试只触碰错误槽位
func TestRetryAllFailed(t *testing.T) {
	provider := &fakeImageProvider{}
	svc := newTestStoryboardService(t, provider)

	shots := plainShots(4)
	shots[0].Description = "policy trigger please"
	shots[3].Description = "generation failure here"

	_, err := svc.StartGeneration(context.Background(), "job-8", 0, shots)
	require.NoError(t, err)
	waitDone(t, svc, "job-8", 0)

	callsBefore := provider.callCount()

	retried, err := svc.RetryAllFailed(context.Background(), "job-8", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, retried)
	assert.Equal(t, callsBefore+2, provider.callCount())

	progress, err := svc.GetProgress("job-8", 0)
	require.NoError(t, err)

	// 策略失败经激进净化后成功，普通失败重试后仍失败
	assert.Equal(t, fakeImageBase64, progress.Items[0].ImageData)
	assert.Equal(t, models.FrameErrGeneration, progress.Items[3].ImageData)
	assert.Equal(t, 4, progress.Completed)
}

// 取消后未发起的槽位写入取消哨兵，在途的跑到结算
func TestCancel(t *testing.T) {
	provider := &fakeImageProvider{delay: 300 * time.Millisecond}
	svc := newTestStoryboardService(t, provider)

	_, err := svc.StartGeneration(context.Background(), "job-9", 0, plainShots(6))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, svc.Cancel("job-9", 0))
	waitDone(t, svc, "job-9", 0)

	progress, err := svc.GetProgress("job-9", 0)
	require.NoError(t, err)

	assert.Equal(t, models.GenerationCancelled, progress.Status)
	assert.Equal(t, 6, progress.Completed, "取消的槽位也要结算为终态")

	cancelled := 0
	for _, item := range progress.Items {
		require.NotNil(t, item)
		if item.ImageData == models.FrameErrCancelled {
			cancelled++
		}
	}
	assert.GreaterOrEqual(t, cancelled, 3, "并发上限3，至少后3个槽位应被取消")

	assert.ErrorIs(t, svc.Cancel("missing", 0), ErrBatchNotFound)
}

// 进度快照是副本，修改不影响内部状态
func TestGetProgress_SnapshotIsolation(t *testing.T) {
	svc := newTestStoryboardService(t, &fakeImageProvider{})

	_, err := svc.StartGeneration(context.Background(), "job-10", 0, plainShots(2))
	require.NoError(t, err)
	waitDone(t, svc, "job-10", 0)

	first, err := svc.GetProgress("job-10", 0)
	require.NoError(t, err)
	first.Items[0].ImageData = "tampered"

	second, err := svc.GetProgress("job-10", 0)
	require.NoError(t, err)
	assert.Equal(t, fakeImageBase64, second.Items[0].ImageData)
}

// 提示词从镜头字段拼装
func TestBuildShotPrompt(t *testing.T) {
	shot := models.Shot{
		ShotSize:       models.ShotSizeCloseUp,
		CameraAngle:    "Eye level",
		CameraMovement: "Slow push in",
		Description:    "Close-up of ALICE delivering dialogue",
		Location:       "KITCHEN",
		Characters:     []string{"ALICE"},
		Props:          []string{"coffee pot"},
	}

	prompt := buildShotPrompt(shot)

	assert.Contains(t, prompt, "Close-Up shot")
	assert.Contains(t, prompt, "eye level angle")
	assert.Contains(t, prompt, "slow push in camera")
	assert.Contains(t, prompt, "Location: KITCHEN")
	assert.Contains(t, prompt, "Characters: ALICE")
	assert.Contains(t, prompt, "Props: coffee pot")
}

// 生成过程中反复轮询，completed 必须单调不减
func TestGetProgress_CompletedNeverDecreases(t *testing.T) {
	provider := &fakeImageProvider{delay: 30 * time.Millisecond}
	svc := newTestStoryboardService(t, provider)

	_, err := svc.StartGeneration(context.Background(), "job-mono", 0, plainShots(8))
	require.NoError(t, err)

	lastCompleted := 0
	deadline := time.After(10 * time.Second)
	for {
		progress, err := svc.GetProgress("job-mono", 0)
		require.NoError(t, err)

		require.GreaterOrEqual(t, progress.Completed, lastCompleted,
			"轮询观察到 completed 从 %d 回退到 %d", lastCompleted, progress.Completed)
		lastCompleted = progress.Completed

		if progress.Status == models.GenerationDone {
			break
		}

		select {
		case <-deadline:
			t.Fatal("批次未在期限内完成")
		case <-time.After(5 * time.Millisecond):
		}
	}

	assert.Equal(t, 8, lastCompleted)
}
