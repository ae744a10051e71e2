// internal/services/shotlist_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/StoryboardForge/internal/models"
)

func dialogueScene() models.Scene {
	return models.Scene{
		SceneNumber:  1,
		SceneHeading: "INT. KITCHEN - DAY",
		Location:     "KITCHEN",
		TimeOfDay:    "DAY",
		IntExt:       models.IntExtInterior,
		Characters:   []string{"ALICE", "BOB"},
		Action:       "Alice pours coffee while Bob reads the paper.",
		Dialogue:     "ALICE: You're up early.",
		Props:        []string{"coffee pot", "newspaper"},
	}
}

func silentScene() models.Scene {
	return models.Scene{
		SceneNumber: 2,
		Location:    "ROOFTOP",
		IntExt:      models.IntExtExterior,
		Characters:  []string{"ALICE"},
		Action:      "Alice watches the skyline.",
	}
}

// 完整选项下：1远景 + 2中景 + 2特写（有对白）+ 2插入 = 7个镜头
func TestGenerate_FullOptions(t *testing.T) {
	svc := NewShotListService()

	shots, err := svc.Generate([]models.Scene{dialogueScene()}, models.DefaultShotListOptions())
	require.NoError(t, err)
	require.Len(t, shots, 7)

	// 固定发射顺序：远景 → 中景 → 特写 → 插入
	assert.Equal(t, models.ShotSizeWide, shots[0].ShotSize)
	assert.Equal(t, models.ShotSizeMedium, shots[1].ShotSize)
	assert.Equal(t, models.ShotSizeMedium, shots[2].ShotSize)
	assert.Equal(t, models.ShotSizeCloseUp, shots[3].ShotSize)
	assert.Equal(t, models.ShotSizeCloseUp, shots[4].ShotSize)
	assert.Equal(t, models.ShotSizeInsert, shots[5].ShotSize)
	assert.Equal(t, models.ShotSizeInsert, shots[6].ShotSize)

	// 中景和特写每角色一个
	assert.Equal(t, []string{"ALICE"}, shots[1].Characters)
	assert.Equal(t, []string{"BOB"}, shots[2].Characters)
	assert.Equal(t, []string{"ALICE"}, shots[3].Characters)
	assert.Equal(t, []string{"BOB"}, shots[4].Characters)

	// 插入镜头每道具一个
	assert.Equal(t, []string{"coffee pot"}, shots[5].Props)
	assert.Equal(t, []string{"newspaper"}, shots[6].Props)
}

// 无对白场景不产出特写
func TestGenerate_NoDialogueSkipsCloseUps(t *testing.T) {
	svc := NewShotListService()

	shots, err := svc.Generate([]models.Scene{silentScene()}, models.DefaultShotListOptions())
	require.NoError(t, err)

	for _, shot := range shots {
		assert.NotEqual(t, models.ShotSizeCloseUp, shot.ShotSize)
	}
	// 1远景 + 1中景，无道具无对白
	require.Len(t, shots, 2)
}

// 镜头号跨场景全局递增
func TestGenerate_ShotNumbersGloballyMonotonic(t *testing.T) {
	svc := NewShotListService()

	shots, err := svc.Generate([]models.Scene{dialogueScene(), silentScene()}, models.DefaultShotListOptions())
	require.NoError(t, err)
	require.Len(t, shots, 9)

	for i, shot := range shots {
		assert.Equal(t, i+1, shot.ShotNumber, "镜头号必须严格递增且不随场景重置")
	}
	assert.Equal(t, 2, shots[7].SceneNumber)
}

// 空风格回退到 standard，未知风格报错
func TestGenerate_StyleValidation(t *testing.T) {
	svc := NewShotListService()

	opts := models.DefaultShotListOptions()
	opts.Style = ""
	shots, err := svc.Generate([]models.Scene{silentScene()}, opts)
	require.NoError(t, err)
	assert.Equal(t, "Static", shots[0].CameraMovement)

	opts.Style = "noir"
	_, err = svc.Generate([]models.Scene{silentScene()}, opts)
	require.Error(t, err)
}

// 确定性：同一输入两次生成结果完全一致
func TestGenerate_Deterministic(t *testing.T) {
	svc := NewShotListService()
	scenes := []models.Scene{dialogueScene(), silentScene()}

	first, err := svc.Generate(scenes, models.DefaultShotListOptions())
	require.NoError(t, err)
	second, err := svc.Generate(scenes, models.DefaultShotListOptions())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// 风格影响运镜
func TestGenerate_StyleMovements(t *testing.T) {
	svc := NewShotListService()

	opts := models.DefaultShotListOptions()
	opts.Style = models.StyleCinematic
	shots, err := svc.Generate([]models.Scene{dialogueScene()}, opts)
	require.NoError(t, err)

	assert.Equal(t, "Slow dolly in", shots[0].CameraMovement)
	assert.Equal(t, "Dolly", shots[1].CameraMovement)
	assert.Equal(t, "Slow push in", shots[3].CameraMovement)
}

func TestTotalDuration(t *testing.T) {
	svc := NewShotListService()

	shots, err := svc.Generate([]models.Scene{dialogueScene()}, models.DefaultShotListOptions())
	require.NoError(t, err)

	// 8 + 6×2 + 5×2 + 3×2 = 36
	assert.Equal(t, 36, svc.TotalDuration(shots))
}

func TestEquipmentList(t *testing.T) {
	svc := NewShotListService()

	// 空镜头表也要有基础三件
	baseline := svc.EquipmentList(nil)
	assert.Equal(t, []string{"Camera body", "Audio kit", "Lighting kit"}, baseline)

	opts := models.DefaultShotListOptions()
	opts.Style = models.StyleCinematic
	shots, err := svc.Generate([]models.Scene{dialogueScene()}, opts)
	require.NoError(t, err)

	equipment := svc.EquipmentList(shots)
	assert.Contains(t, equipment, "Wide angle lens (24mm)")
	assert.Contains(t, equipment, "85mm lens")
	assert.Contains(t, equipment, "Camera dolly")

	// 去重
	seen := make(map[string]bool)
	for _, item := range equipment {
		assert.False(t, seen[item], "器材清单不能有重复项: %s", item)
		seen[item] = true
	}
}

func TestGroupByScene(t *testing.T) {
	svc := NewShotListService()

	shots, err := svc.Generate([]models.Scene{dialogueScene(), silentScene()}, models.DefaultShotListOptions())
	require.NoError(t, err)

	groups := svc.GroupByScene(shots)
	require.Len(t, groups, 2)
	assert.Len(t, groups[1], 7)
	assert.Len(t, groups[2], 2)
}
