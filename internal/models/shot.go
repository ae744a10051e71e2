// internal/models/shot.go
package models

// ShotSize 镜头景别
type ShotSize string

const (
	ShotSizeWide    ShotSize = "Wide"
	ShotSizeMedium  ShotSize = "Medium"
	ShotSizeCloseUp ShotSize = "Close-Up"
	ShotSizeInsert  ShotSize = "Insert"
)

// ShotCategory 镜头类别，决定风格表中使用的运镜取值
type ShotCategory string

const (
	CategoryEstablishing ShotCategory = "establishing"
	CategoryCharacter    ShotCategory = "character"
	CategoryDialogue     ShotCategory = "dialogue"
	CategoryAction       ShotCategory = "action"
)

// ShotStyle 整体拍摄风格
type ShotStyle string

const (
	StyleStandard    ShotStyle = "standard"
	StyleDocumentary ShotStyle = "documentary"
	StyleCinematic   ShotStyle = "cinematic"
	StyleHandheld    ShotStyle = "handheld"
)

// Shot 表示一个镜头（一个机位设置）
// ShotNumber 为全局编号，跨场景单调递增且不重置
// Characters 必须是所属场景角色集合的子集
type Shot struct {
	ShotNumber     int      `json:"shot_number"`
	SceneNumber    int      `json:"scene_number"`
	ShotSize       ShotSize `json:"shot_size"`
	CameraAngle    string   `json:"camera_angle,omitempty"`
	CameraMovement string   `json:"camera_movement,omitempty"`
	Description    string   `json:"description"`
	Characters     []string `json:"characters,omitempty"`
	Location       string   `json:"location,omitempty"`
	Props          []string `json:"props,omitempty"`
	Wardrobe       []string `json:"wardrobe,omitempty"`
	Makeup         []string `json:"makeup,omitempty"`
	SpecialEffects []string `json:"special_effects,omitempty"`
	DurationSecs   int      `json:"estimated_duration_seconds"`
}

// ShotListOptions 镜头表生成选项
type ShotListOptions struct {
	IncludeWide     bool      `json:"include_wide"`
	IncludeMedium   bool      `json:"include_medium"`
	IncludeCloseUps bool      `json:"include_close_ups"`
	IncludeInserts  bool      `json:"include_inserts"`
	Style           ShotStyle `json:"style"`
}

// DefaultShotListOptions 默认生成所有类别的标准风格镜头表
func DefaultShotListOptions() ShotListOptions {
	return ShotListOptions{
		IncludeWide:     true,
		IncludeMedium:   true,
		IncludeCloseUps: true,
		IncludeInserts:  true,
		Style:           StyleStandard,
	}
}
