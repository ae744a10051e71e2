// internal/services/shotlist_service.go
package services

import (
	"fmt"
	"strings"

	apperrors "github.com/Corphon/StoryboardForge/internal/errors"
	"github.com/Corphon/StoryboardForge/internal/models"
)

// ShotListService 从场景列表确定性地派生镜头表
// 纯计算服务，无I/O，相同输入必然产生相同输出
type ShotListService struct{}

// NewShotListService 创建镜头表服务
func NewShotListService() *ShotListService {
	return &ShotListService{}
}

// 风格 × 镜头类别 → 运镜方式
var cameraMovementTable = map[models.ShotStyle]map[models.ShotCategory]string{
	models.StyleStandard: {
		models.CategoryEstablishing: "Static",
		models.CategoryCharacter:    "Static",
		models.CategoryDialogue:     "Static",
		models.CategoryAction:       "Pan",
	},
	models.StyleDocumentary: {
		models.CategoryEstablishing: "Slow pan",
		models.CategoryCharacter:    "Handheld follow",
		models.CategoryDialogue:     "Handheld",
		models.CategoryAction:       "Handheld follow",
	},
	models.StyleCinematic: {
		models.CategoryEstablishing: "Slow dolly in",
		models.CategoryCharacter:    "Dolly",
		models.CategoryDialogue:     "Slow push in",
		models.CategoryAction:       "Tracking",
	},
	models.StyleHandheld: {
		models.CategoryEstablishing: "Handheld wide",
		models.CategoryCharacter:    "Handheld",
		models.CategoryDialogue:     "Handheld close",
		models.CategoryAction:       "Whip pan",
	},
}

// 各景别的默认时长估计（秒）
var shotDurationEstimates = map[models.ShotSize]int{
	models.ShotSizeWide:    8,
	models.ShotSizeMedium:  6,
	models.ShotSizeCloseUp: 5,
	models.ShotSizeInsert:  3,
}

// Generate 按固定顺序为每个场景派生镜头
// 每场景依次：1个定场远景 → 每角色1个中景 → 有对白时每角色1个特写 → 每道具1个特写插入
// 镜头号跨场景全局递增，不重置
func (s *ShotListService) Generate(scenes []models.Scene, opts models.ShotListOptions) ([]models.Shot, error) {
	if opts.Style == "" {
		opts.Style = models.StyleStandard
	}

	movements, ok := cameraMovementTable[opts.Style]
	if !ok {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("未知的拍摄风格: %s", opts.Style), nil)
	}

	var shots []models.Shot
	shotNumber := 0

	for _, scene := range scenes {
		// 1. 定场远景
		if opts.IncludeWide {
			shotNumber++
			shots = append(shots, models.Shot{
				ShotNumber:     shotNumber,
				SceneNumber:    scene.SceneNumber,
				ShotSize:       models.ShotSizeWide,
				CameraAngle:    "Eye level",
				CameraMovement: movements[models.CategoryEstablishing],
				Description:    establishingDescription(scene),
				Characters:     append([]string(nil), scene.Characters...),
				Location:       scene.Location,
				Props:          append([]string(nil), scene.Props...),
				Wardrobe:       append([]string(nil), scene.Wardrobe...),
				SpecialEffects: append([]string(nil), scene.SpecialEffects...),
				DurationSecs:   shotDurationEstimates[models.ShotSizeWide],
			})
		}

		// 2. 每角色一个中景
		if opts.IncludeMedium {
			for _, character := range scene.Characters {
				shotNumber++
				shots = append(shots, models.Shot{
					ShotNumber:     shotNumber,
					SceneNumber:    scene.SceneNumber,
					ShotSize:       models.ShotSizeMedium,
					CameraAngle:    "Eye level",
					CameraMovement: movements[models.CategoryCharacter],
					Description:    fmt.Sprintf("Medium shot of %s in %s", character, sceneLocationOrHeading(scene)),
					Characters:     []string{character},
					Location:       scene.Location,
					Wardrobe:       append([]string(nil), scene.Wardrobe...),
					Makeup:         append([]string(nil), scene.Makeup...),
					DurationSecs:   shotDurationEstimates[models.ShotSizeMedium],
				})
			}
		}

		// 3. 有对白时每角色一个特写
		if opts.IncludeCloseUps && strings.TrimSpace(scene.Dialogue) != "" {
			for _, character := range scene.Characters {
				shotNumber++
				shots = append(shots, models.Shot{
					ShotNumber:     shotNumber,
					SceneNumber:    scene.SceneNumber,
					ShotSize:       models.ShotSizeCloseUp,
					CameraAngle:    "Eye level",
					CameraMovement: movements[models.CategoryDialogue],
					Description:    fmt.Sprintf("Close-up of %s delivering dialogue", character),
					Characters:     []string{character},
					Location:       scene.Location,
					Makeup:         append([]string(nil), scene.Makeup...),
					DurationSecs:   shotDurationEstimates[models.ShotSizeCloseUp],
				})
			}
		}

		// 4. 每道具一个插入镜头
		if opts.IncludeInserts {
			for _, prop := range scene.Props {
				shotNumber++
				shots = append(shots, models.Shot{
					ShotNumber:     shotNumber,
					SceneNumber:    scene.SceneNumber,
					ShotSize:       models.ShotSizeInsert,
					CameraAngle:    "High angle",
					CameraMovement: movements[models.CategoryAction],
					Description:    fmt.Sprintf("Insert shot of %s", prop),
					Location:       scene.Location,
					Props:          []string{prop},
					DurationSecs:   shotDurationEstimates[models.ShotSizeInsert],
				})
			}
		}
	}

	return shots, nil
}

// establishingDescription 定场镜头描述
func establishingDescription(scene models.Scene) string {
	location := sceneLocationOrHeading(scene)
	if scene.TimeOfDay != "" {
		return fmt.Sprintf("Establishing wide shot of %s, %s", location, strings.ToLower(scene.TimeOfDay))
	}
	return fmt.Sprintf("Establishing wide shot of %s", location)
}

func sceneLocationOrHeading(scene models.Scene) string {
	if scene.Location != "" {
		return scene.Location
	}
	if scene.SceneHeading != "" {
		return scene.SceneHeading
	}
	return "the scene"
}

// TotalDuration 镜头表总时长（秒）
func (s *ShotListService) TotalDuration(shots []models.Shot) int {
	total := 0
	for _, shot := range shots {
		total += shot.DurationSecs
	}
	return total
}

// GroupByScene 按场景号分组
func (s *ShotListService) GroupByScene(shots []models.Shot) map[int][]models.Shot {
	groups := make(map[int][]models.Shot)
	for _, shot := range shots {
		groups[shot.SceneNumber] = append(groups[shot.SceneNumber], shot)
	}
	return groups
}

// 基础器材，任何镜头表都需要
var baselineEquipment = []string{
	"Camera body",
	"Audio kit",
	"Lighting kit",
}

// EquipmentList 从景别和运镜推导去重后的器材清单，始终包含基础三件
func (s *ShotListService) EquipmentList(shots []models.Shot) []string {
	equipment := append([]string(nil), baselineEquipment...)
	seen := make(map[string]bool, len(equipment))
	for _, item := range equipment {
		seen[item] = true
	}

	add := func(item string) {
		if !seen[item] {
			seen[item] = true
			equipment = append(equipment, item)
		}
	}

	for _, shot := range shots {
		switch shot.ShotSize {
		case models.ShotSizeWide:
			add("Wide angle lens (24mm)")
			add("Tripod")
		case models.ShotSizeMedium:
			add("Standard lens (50mm)")
		case models.ShotSizeCloseUp:
			add("85mm lens")
		case models.ShotSizeInsert:
			add("Macro lens")
		}

		movement := strings.ToLower(shot.CameraMovement)
		switch {
		case strings.Contains(movement, "dolly"), strings.Contains(movement, "push"):
			add("Camera dolly")
		case strings.Contains(movement, "tracking"):
			add("Track and dolly system")
		case strings.Contains(movement, "handheld"):
			add("Shoulder rig")
		case strings.Contains(movement, "pan"):
			add("Fluid head tripod")
		}
	}

	return equipment
}
