package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wardrobeapi/combinations"
)

func TestParseItem(t *testing.T) {
	item, paths, err := parseItem(combinations.RoleTop, "linen=front.png, back.png")
	require.NoError(t, err)
	assert.Equal(t, "linen", item.ID)
	assert.Equal(t, combinations.RoleTop, item.Role)
	assert.Equal(t, []string{"front.png", "back.png"}, paths)

	item, paths, err = parseItem(combinations.RoleBottom, "photos/jeans.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jeans", item.ID)
	assert.Equal(t, []string{"photos/jeans.jpg"}, paths)

	for _, value := range []string{"=a.png", "id=", "id= , ", "a+b=x.png", "a/b=x.png"} {
		_, _, err := parseItem(combinations.RoleTop, value)
		assert.Error(t, err, value)
	}
}

func TestLookWriter(t *testing.T) {
	dir := t.TempDir()
	w := &lookWriter{dir: dir}
	key := combinations.TaskKey{TopID: "linen", BottomID: "jeans"}

	w.OnTaskUpdated(combinations.TaskState{Key: key, Phase: combinations.PhaseImageReady, Image: &combinations.Image{Data: []byte("png")}})
	w.OnTaskUpdated(combinations.TaskState{Key: key, Phase: combinations.PhaseComplete, Critique: &combinations.Critique{Rating: 7, Verdict: "Relaxed"}})

	data, err := os.ReadFile(filepath.Join(dir, "linen+jeans.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "linen+jeans.json"))
	require.NoError(t, err)
	var critique combinations.Critique
	require.NoError(t, json.Unmarshal(data, &critique))
	assert.Equal(t, 7.0, critique.Rating)
	assert.Equal(t, "Relaxed", critique.Verdict)
}

func TestLookWriterKeepsCombinationsApart(t *testing.T) {
	dir := t.TempDir()
	w := &lookWriter{dir: dir}
	first := combinations.TaskKey{TopID: "a-b", BottomID: "c"}
	second := combinations.TaskKey{TopID: "a", BottomID: "b-c"}
	require.Equal(t, first.String(), second.String())

	w.OnTaskUpdated(combinations.TaskState{Key: first, Phase: combinations.PhaseImageReady, Image: &combinations.Image{Data: []byte("first")}})
	w.OnTaskUpdated(combinations.TaskState{Key: second, Phase: combinations.PhaseImageReady, Image: &combinations.Image{Data: []byte("second")}})

	data, err := os.ReadFile(filepath.Join(dir, "a-b+c.png"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	data, err = os.ReadFile(filepath.Join(dir, "a+b-c.png"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestRunDetectWithoutBodyPhoto(t *testing.T) {
	saved := bodyPaths
	defer func() { bodyPaths = saved }()

	bodyPaths = nil
	assert.NotPanics(t, func() {
		assert.Error(t, runDetect(detectCmd, nil))
	})
}
