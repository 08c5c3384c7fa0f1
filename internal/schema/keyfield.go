package schema

import (
	"errors"
	"fmt"

	"github.com/pitabwire/designer/model"
)

var (
	// ErrKeyLocked is returned when a key change is attempted on an entity
	// whose key field is locked.
	ErrKeyLocked = errors.New("schema: key field is locked")
	// ErrFieldIndexOutOfRange is returned when a key target addresses no
	// field.
	ErrFieldIndexOutOfRange = errors.New("schema: field index out of range")
)

// AutoIncrementLabel is the selector label of the auto-increment option.
const AutoIncrementLabel = "Auto integer key"

// Placeholder returns the synthetic field that stands in for an
// auto-increment key.
func Placeholder() model.Field {
	return model.Field{
		Name:         model.AutoIncrementKeyName,
		DataType:     model.DataTypeInteger,
		IsPrimaryKey: true,
		Required:     true,
		Synthetic:    true,
	}
}

func isPlaceholder(f model.Field) bool { return f.Synthetic }

// SelectionOf derives the key selection from the collection. The collection
// is the only record of which field is the key.
func SelectionOf(c Collection) model.KeySelection {
	if c.PlaceholderIndex() >= 0 {
		return model.AutoIncrementKey()
	}
	if keys := c.KeyIndexes(); len(keys) > 0 {
		return model.FieldKey(keys[0])
	}
	return model.NoKey()
}

// LockedKeyIndex returns the index of the field locked as key, or -1.
func LockedKeyIndex(c Collection) int {
	for i, f := range c.fields {
		if f.LockType == model.LockedAsKey {
			return i
		}
	}
	return -1
}

// SelectKey moves the key to target and returns the resulting collection.
// The previous key mechanism is always torn down before the new one is put
// in place, and only the final collection is returned, so no observer ever
// sees two keys at once. Selecting the current key is a no-op. On error the
// input collection is returned unchanged.
func SelectKey(c Collection, target model.KeySelection) (Collection, error) {
	if target.Kind == model.KeyField {
		if !c.InRange(target.FieldIndex) {
			return c, fmt.Errorf("%w: %d not in [0,%d)", ErrFieldIndexOutOfRange, target.FieldIndex, c.Len())
		}
		if c.At(target.FieldIndex).Synthetic {
			target = model.AutoIncrementKey()
		}
	}

	current := SelectionOf(c)
	if current == target && len(c.KeyIndexes()) <= 1 {
		return c, nil
	}
	if locked := LockedKeyIndex(c); locked >= 0 {
		return c, fmt.Errorf("%w: field %q is the key of a saved entity", ErrKeyLocked, c.At(locked).Name)
	}

	next, shift := clearKey(c)

	switch target.Kind {
	case model.KeyAutoIncrement:
		next = next.WithFieldAppended(Placeholder())
	case model.KeyField:
		j := target.FieldIndex
		if shift >= 0 && shift < j {
			j--
		}
		next = next.WithFieldReplaced(j, Of(SetPrimaryKey(true), SetRequired(true)))
	}
	return next, nil
}

// clearKey removes the placeholder and unsets every key-flagged field. It
// returns the index the placeholder occupied, or -1.
func clearKey(c Collection) (Collection, int) {
	next := c
	for _, i := range c.KeyIndexes() {
		if c.At(i).Synthetic {
			continue
		}
		next = next.WithFieldReplaced(i, Of(SetPrimaryKey(false), SetRequired(false)))
	}
	p := next.PlaceholderIndex()
	if p >= 0 {
		next = next.WithFieldRemoved(isPlaceholder)
	}
	return next, p
}

// IsKeyValid reports whether exactly one field (or the placeholder) is the
// key and that field has a key-eligible data type.
func IsKeyValid(c Collection) bool {
	keys := c.KeyIndexes()
	if len(keys) != 1 {
		return false
	}
	return c.At(keys[0]).DataType.KeyEligible()
}

// KeyOptions lists what the key-field selector offers: every named field of
// a key-eligible type, then the auto-increment option when allowed.
func KeyOptions(c Collection, allowAutoIncrement bool) []model.KeyOption {
	current := SelectionOf(c)
	opts := make([]model.KeyOption, 0, c.Len()+1)
	for i, f := range c.fields {
		if f.Synthetic || f.Name == "" || !f.DataType.KeyEligible() {
			continue
		}
		sel := model.FieldKey(i)
		opts = append(opts, model.KeyOption{Label: f.Name, Selection: sel, Selected: current == sel})
	}
	if allowAutoIncrement {
		sel := model.AutoIncrementKey()
		opts = append(opts, model.KeyOption{Label: AutoIncrementLabel, Selection: sel, Selected: current == sel})
	}
	return opts
}

// LockKey returns c with its key field locked, as it is once the entity has
// been saved. A collection without exactly one key is returned unchanged.
func LockKey(c Collection) Collection {
	keys := c.KeyIndexes()
	if len(keys) != 1 {
		return c
	}
	return c.WithFieldReplaced(keys[0], Of(SetLockType(model.LockedAsKey)))
}
