package combinations

import (
	"fmt"
	"strings"
)

// InsufficientInputError is returned by Expand when the snapshot cannot
// produce a single combination.
type InsufficientInputError struct {
	Missing []Role
}

func (e *InsufficientInputError) Error() string {
	names := make([]string, len(e.Missing))
	for i, role := range e.Missing {
		names[i] = string(role)
	}
	return fmt.Sprintf("insufficient input: need at least one %s with images", strings.Join(names, ", "))
}

// DuplicateItemError is returned when two valid items of the same role share an id.
type DuplicateItemError struct {
	Role Role
	ID   string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("duplicate %s item id %q", e.Role, e.ID)
}

// Expand turns a snapshot into one descriptor per valid top x valid bottom,
// top-major. Items without images are skipped. The accessory set is flattened
// once and shared by every descriptor.
func Expand(snapshot Snapshot) ([]TaskDescriptor, error) {
	tops := validItems(snapshot.Tops)
	bottoms := validItems(snapshot.Bottoms)

	var missing []Role
	if len(snapshot.Body) == 0 {
		missing = append(missing, RoleBody)
	}
	if len(tops) == 0 {
		missing = append(missing, RoleTop)
	}
	if len(bottoms) == 0 {
		missing = append(missing, RoleBottom)
	}
	if len(missing) > 0 {
		return nil, &InsufficientInputError{Missing: missing}
	}
	if err := checkUniqueIDs(RoleTop, tops); err != nil {
		return nil, err
	}
	if err := checkUniqueIDs(RoleBottom, bottoms); err != nil {
		return nil, err
	}

	accessories := FlattenAccessories(snapshot.Accessories)
	descriptors := make([]TaskDescriptor, 0, len(tops)*len(bottoms))
	for _, top := range tops {
		for _, bottom := range bottoms {
			descriptors = append(descriptors, TaskDescriptor{
				Key:         TaskKey{TopID: top.ID, BottomID: bottom.ID},
				Body:        snapshot.Body,
				Top:         top.Images,
				Bottom:      bottom.Images,
				Accessories: accessories,
				Volumetric:  snapshot.Volumetric,
			})
		}
	}
	return descriptors, nil
}

// FlattenAccessories concatenates the images of every accessory item that has
// any, in item order then image order.
func FlattenAccessories(items []WardrobeItem) ImageSet {
	var flat ImageSet
	for _, item := range validItems(items) {
		flat = append(flat, item.Images...)
	}
	return flat
}

func validItems(items []WardrobeItem) []WardrobeItem {
	valid := make([]WardrobeItem, 0, len(items))
	for _, item := range items {
		if item.Valid() {
			valid = append(valid, item)
		}
	}
	return valid
}

func checkUniqueIDs(role Role, items []WardrobeItem) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			return &DuplicateItemError{Role: role, ID: item.ID}
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// Keys returns the descriptor keys in emission order.
func Keys(descriptors []TaskDescriptor) []TaskKey {
	keys := make([]TaskKey, len(descriptors))
	for i, d := range descriptors {
		keys[i] = d.Key
	}
	return keys
}
