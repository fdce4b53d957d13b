package combinations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func img(key string) Image {
	return Image{Key: key, MIMEType: "image/png"}
}

func item(id string, role Role, keys ...string) WardrobeItem {
	images := make(ImageSet, 0, len(keys))
	for _, k := range keys {
		images = append(images, img(k))
	}
	return WardrobeItem{ID: id, Role: role, Images: images}
}

func TestExpandProducesTopMajorProduct(t *testing.T) {
	snapshot := Snapshot{
		Body:    ImageSet{img("body-front"), img("body-side")},
		Tops:    []WardrobeItem{item("T1", RoleTop, "t1a", "t1b"), item("T2", RoleTop, "t2a")},
		Bottoms: []WardrobeItem{item("B1", RoleBottom, "b1a"), item("B2", RoleBottom, "b2a")},
	}

	descriptors, err := Expand(snapshot)
	require.NoError(t, err)
	require.Len(t, descriptors, 4)

	assert.Equal(t, []TaskKey{
		{TopID: "T1", BottomID: "B1"},
		{TopID: "T1", BottomID: "B2"},
		{TopID: "T2", BottomID: "B1"},
		{TopID: "T2", BottomID: "B2"},
	}, Keys(descriptors))
	assert.Equal(t, ImageSet{img("t1a"), img("t1b")}, descriptors[0].Top)
	assert.Equal(t, ImageSet{img("b2a")}, descriptors[3].Bottom)
	for _, d := range descriptors {
		assert.Equal(t, snapshot.Body, d.Body)
		assert.NotEmpty(t, d.Top)
		assert.NotEmpty(t, d.Bottom)
	}
}

func TestExpandSkipsItemsWithoutImages(t *testing.T) {
	snapshot := Snapshot{
		Body:    ImageSet{img("body")},
		Tops:    []WardrobeItem{item("T1", RoleTop, "t1"), item("T-empty", RoleTop), item("T2", RoleTop, "t2")},
		Bottoms: []WardrobeItem{item("B-empty", RoleBottom), item("B1", RoleBottom, "b1")},
	}

	descriptors, err := Expand(snapshot)
	require.NoError(t, err)
	assert.Equal(t, []TaskKey{{"T1", "B1"}, {"T2", "B1"}}, Keys(descriptors))
}

func TestExpandSharesFlattenedAccessories(t *testing.T) {
	snapshot := Snapshot{
		Body:    ImageSet{img("body")},
		Tops:    []WardrobeItem{item("T1", RoleTop, "t1"), item("T2", RoleTop, "t2")},
		Bottoms: []WardrobeItem{item("B1", RoleBottom, "b1")},
		Accessories: []WardrobeItem{
			item("A1", RoleAccessory, "a1-front", "a1-back"),
			item("A-empty", RoleAccessory),
			item("A2", RoleAccessory, "a2"),
		},
		Volumetric: true,
	}

	descriptors, err := Expand(snapshot)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	expected := ImageSet{img("a1-front"), img("a1-back"), img("a2")}
	assert.Equal(t, expected, descriptors[0].Accessories)
	assert.Equal(t, expected, descriptors[1].Accessories)
	assert.Same(t, &descriptors[0].Accessories[0], &descriptors[1].Accessories[0])
	assert.True(t, descriptors[0].Volumetric)
}

func TestExpandWithoutAccessories(t *testing.T) {
	descriptors, err := Expand(Snapshot{
		Body:    ImageSet{img("body")},
		Tops:    []WardrobeItem{item("T1", RoleTop, "t1")},
		Bottoms: []WardrobeItem{item("B1", RoleBottom, "b1")},
	})
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Empty(t, descriptors[0].Accessories)
}

func TestExpandInsufficientInput(t *testing.T) {
	cases := []struct {
		name     string
		snapshot Snapshot
		missing  []Role
	}{
		{
			name: "no valid tops",
			snapshot: Snapshot{
				Body:    ImageSet{img("body")},
				Tops:    []WardrobeItem{item("T1", RoleTop)},
				Bottoms: []WardrobeItem{item("B1", RoleBottom, "b1")},
			},
			missing: []Role{RoleTop},
		},
		{
			name: "no bottoms",
			snapshot: Snapshot{
				Body: ImageSet{img("body")},
				Tops: []WardrobeItem{item("T1", RoleTop, "t1")},
			},
			missing: []Role{RoleBottom},
		},
		{
			name: "no body",
			snapshot: Snapshot{
				Tops:    []WardrobeItem{item("T1", RoleTop, "t1")},
				Bottoms: []WardrobeItem{item("B1", RoleBottom, "b1")},
			},
			missing: []Role{RoleBody},
		},
		{
			name:     "empty snapshot",
			snapshot: Snapshot{},
			missing:  []Role{RoleBody, RoleTop, RoleBottom},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			descriptors, err := Expand(tc.snapshot)
			assert.Nil(t, descriptors)

			var insufficient *InsufficientInputError
			require.ErrorAs(t, err, &insufficient)
			assert.Equal(t, tc.missing, insufficient.Missing)
		})
	}
}

func TestExpandRejectsDuplicateIDs(t *testing.T) {
	_, err := Expand(Snapshot{
		Body:    ImageSet{img("body")},
		Tops:    []WardrobeItem{item("X", RoleTop, "t1"), item("X", RoleTop, "t2")},
		Bottoms: []WardrobeItem{item("B1", RoleBottom, "b1")},
	})

	var dup *DuplicateItemError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, RoleTop, dup.Role)
	assert.Equal(t, "X", dup.ID)
}

func TestExpandKeysDoNotCollideOnDashes(t *testing.T) {
	// "a-b"+"c" and "a"+"b-c" join to the same display string but stay distinct keys.
	descriptors, err := Expand(Snapshot{
		Body:    ImageSet{img("body")},
		Tops:    []WardrobeItem{item("a-b", RoleTop, "t1"), item("a", RoleTop, "t2")},
		Bottoms: []WardrobeItem{item("c", RoleBottom, "b1"), item("b-c", RoleBottom, "b2")},
	})
	require.NoError(t, err)

	seen := map[TaskKey]bool{}
	for _, key := range Keys(descriptors) {
		seen[key] = true
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, descriptors[0].Key.String(), descriptors[3].Key.String())
}

func TestExpandIsDeterministic(t *testing.T) {
	snapshot := Snapshot{
		Body:    ImageSet{img("body")},
		Tops:    []WardrobeItem{item("T1", RoleTop, "t1"), item("T2", RoleTop, "t2")},
		Bottoms: []WardrobeItem{item("B1", RoleBottom, "b1")},
	}
	first, err := Expand(snapshot)
	require.NoError(t, err)
	second, err := Expand(snapshot)
	require.NoError(t, err)
	assert.Equal(t, Keys(first), Keys(second))
}
