// internal/services/llm_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONString_StripsInvisibleNoise(t *testing.T) {
	// BOM、零宽字符、不间断空格和Unicode行分隔符都可能混入模型输出
	raw := "\uFEFF```json\n{\"scenes\": [{\"scene_number\":​1}]} ```"

	cleaned := cleanJSONString(raw)
	assert.Equal(t, `{"scenes": [{"scene_number":1}]}`, cleaned)
}

func TestCleanJSONString_ExtractsObjectFromProse(t *testing.T) {
	raw := "Here is the breakdown you asked for:\n{\"scenes\": []}\nHope this helps!"

	cleaned := cleanJSONString(raw)
	assert.Equal(t, `{"scenes": []}`, cleaned)
}

func TestCleanJSONString_NoJSONContent(t *testing.T) {
	assert.Equal(t, "plain text", cleanJSONString("plain text"))
	assert.Equal(t, "", cleanJSONString(""))
}
