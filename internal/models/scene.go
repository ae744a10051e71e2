// internal/models/scene.go
package models

// IntExt 场景的内/外景标记
type IntExt string

const (
	IntExtInterior IntExt = "INT"
	IntExtExterior IntExt = "EXT"
	IntExtUnknown  IntExt = ""
)

// Scene 表示剧本解析出的一个场景
// SceneNumber 在同一次解析结果中严格递增（从1开始）
type Scene struct {
	SceneNumber    int      `json:"scene_number"`
	SceneHeading   string   `json:"scene_heading"`
	Location       string   `json:"location,omitempty"`
	TimeOfDay      string   `json:"time_of_day,omitempty"`
	IntExt         IntExt   `json:"int_ext,omitempty"`
	Characters     []string `json:"characters,omitempty"`
	Action         string   `json:"action,omitempty"`
	Dialogue       string   `json:"dialogue,omitempty"`
	Props          []string `json:"props,omitempty"`
	Wardrobe       []string `json:"wardrobe,omitempty"`
	Makeup         []string `json:"makeup,omitempty"`
	SpecialEffects []string `json:"special_effects,omitempty"`
	Tone           string   `json:"tone,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// HasCharacter 判断场景的角色列表中是否包含指定名字
func (s *Scene) HasCharacter(name string) bool {
	for _, c := range s.Characters {
		if c == name {
			return true
		}
	}
	return false
}

// SceneField 可供选择的解析字段名
type SceneField string

const (
	FieldSceneHeading   SceneField = "scene_heading"
	FieldLocation       SceneField = "location"
	FieldTimeOfDay      SceneField = "time_of_day"
	FieldIntExt         SceneField = "int_ext"
	FieldCharacters     SceneField = "characters"
	FieldAction         SceneField = "action"
	FieldDialogue       SceneField = "dialogue"
	FieldProps          SceneField = "props"
	FieldWardrobe       SceneField = "wardrobe"
	FieldMakeup         SceneField = "makeup"
	FieldSpecialEffects SceneField = "special_effects"
	FieldTone           SceneField = "tone"
	FieldNotes          SceneField = "notes"
)

// SceneFieldDescriptions 字段名到提示词描述的固定映射
// 解析时按选中的字段子集拼装系统提示
var SceneFieldDescriptions = map[SceneField]string{
	FieldSceneHeading:   "The slugline of the scene, e.g. \"INT. KITCHEN - DAY\".",
	FieldLocation:       "The physical location where the scene takes place.",
	FieldTimeOfDay:      "Time of day for the scene (DAY, NIGHT, DAWN, DUSK, or free text).",
	FieldIntExt:         "Whether the scene is interior (INT) or exterior (EXT).",
	FieldCharacters:     "Names of all characters appearing in the scene, in order of appearance.",
	FieldAction:         "Prose description of the visible action in the scene.",
	FieldDialogue:       "A short summary of the dialogue, or key lines verbatim.",
	FieldProps:          "Physical props required to shoot the scene.",
	FieldWardrobe:       "Wardrobe or costume requirements for the scene.",
	FieldMakeup:         "Makeup or hair requirements for the scene.",
	FieldSpecialEffects: "Practical or visual effects required by the scene.",
	FieldTone:           "The emotional tone or mood of the scene.",
	FieldNotes:          "Any production notes that do not fit the other fields.",
}

// DefaultSceneFields 未指定字段时的默认字段选择
func DefaultSceneFields() []SceneField {
	return []SceneField{
		FieldSceneHeading, FieldLocation, FieldTimeOfDay, FieldIntExt,
		FieldCharacters, FieldAction, FieldDialogue, FieldProps, FieldTone,
	}
}

// IsKnownSceneField 检查字段名是否在固定字典内
func IsKnownSceneField(f SceneField) bool {
	_, ok := SceneFieldDescriptions[f]
	return ok
}
