// internal/storage/file_storage_test.go
package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Count int    `json:"count"`
}

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestSaveAndLoadJSONFile(t *testing.T) {
	fs := newTestStorage(t)

	original := sampleRecord{ID: "abc", Title: "厨房场景", Count: 7}
	require.NoError(t, fs.SaveJSONFile("scripts", "abc.json", original))

	var loaded sampleRecord
	require.NoError(t, fs.LoadJSONFile("scripts", "abc.json", &loaded))
	assert.Equal(t, original, loaded)
}

func TestSaveFile_OverwritesExisting(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveFile("notes", "a.txt", []byte("first")))
	require.NoError(t, fs.SaveFile("notes", "a.txt", []byte("second")))

	content, err := fs.LoadFile("notes", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))
}

func TestFileExistsAndDelete(t *testing.T) {
	fs := newTestStorage(t)

	assert.False(t, fs.FileExists("scripts", "missing.json"))

	require.NoError(t, fs.SaveJSONFile("scripts", "x.json", sampleRecord{ID: "x"}))
	assert.True(t, fs.FileExists("scripts", "x.json"))

	require.NoError(t, fs.DeleteFile("scripts", "x.json"))
	assert.False(t, fs.FileExists("scripts", "x.json"))

	// 删除后读取应失败
	var out sampleRecord
	assert.Error(t, fs.LoadJSONFile("scripts", "x.json", &out))
}

func TestLoadFile_Missing(t *testing.T) {
	fs := newTestStorage(t)

	_, err := fs.LoadFile("scripts", "nope.json")
	assert.Error(t, err)
}

func TestListFiles(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveJSONFile("scripts", "one.json", sampleRecord{ID: "1"}))
	require.NoError(t, fs.SaveJSONFile("scripts", "two.json", sampleRecord{ID: "2"}))
	require.NoError(t, fs.SaveJSONFile("users", "u.json", sampleRecord{ID: "u"}))

	files, err := fs.ListFiles("scripts")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one.json", "two.json"}, files)

	// 空目录返回空列表而不是错误
	empty, err := fs.ListFiles("storyboards")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteDir(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveJSONFile("storyboards/job1", "scene_0.json", sampleRecord{ID: "f"}))
	require.NoError(t, fs.DeleteDir("storyboards/job1"))
	assert.False(t, fs.FileExists("storyboards/job1", "scene_0.json"))
}

func TestCacheServesRepeatedReads(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveJSONFile("scripts", "c.json", sampleRecord{ID: "c", Count: 1}))

	var first, second sampleRecord
	require.NoError(t, fs.LoadJSONFile("scripts", "c.json", &first))
	require.NoError(t, fs.LoadJSONFile("scripts", "c.json", &second))
	assert.Equal(t, first, second)

	// 覆盖写入后缓存必须失效
	require.NoError(t, fs.SaveJSONFile("scripts", "c.json", sampleRecord{ID: "c", Count: 2}))
	var third sampleRecord
	require.NoError(t, fs.LoadJSONFile("scripts", "c.json", &third))
	assert.Equal(t, 2, third.Count)
}
