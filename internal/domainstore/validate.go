package domainstore

import (
	"fmt"
	"strings"

	"github.com/pitabwire/designer/model"
)

// Validation detail codes.
const (
	CodeRequired        = "REQUIRED"
	CodeTooLong         = "TOO_LONG"
	CodeDuplicate       = "DUPLICATE"
	CodeInvalidType     = "INVALID_TYPE"
	CodeKeyNotFound     = "KEY_NOT_FOUND"
	CodeKeyTypeMismatch = "KEY_TYPE_MISMATCH"
	CodeKeyChanged      = "KEY_CHANGED"
)

const maxNameLength = 200

// Validate runs the server-side checks shared by every store. It returns
// nil when the design is acceptable.
func Validate(d model.DomainDesign) []model.FieldError {
	var errs []model.FieldError

	name := strings.TrimSpace(d.Name)
	switch {
	case name == "":
		errs = append(errs, model.FieldError{Field: "name", Code: CodeRequired, Message: "name is required"})
	case len(name) > maxNameLength:
		errs = append(errs, model.FieldError{
			Field: "name", Code: CodeTooLong,
			Message: fmt.Sprintf("name must be at most %d characters", maxNameLength),
		})
	}

	seen := make(map[string]int, len(d.Fields))
	for i, f := range d.Fields {
		path := fmt.Sprintf("fields[%d]", i)
		fname := strings.TrimSpace(f.Name)
		if fname == "" {
			errs = append(errs, model.FieldError{
				Field: path + ".name", Code: CodeRequired,
				Message: "field name is required", FieldIndex: model.IntPtr(i),
			})
		} else if prev, dup := seen[strings.ToLower(fname)]; dup {
			errs = append(errs, model.FieldError{
				Field: path + ".name", Code: CodeDuplicate,
				Message:    fmt.Sprintf("field name %q is already used by field %d", fname, prev),
				FieldIndex: model.IntPtr(i),
			})
		} else {
			seen[strings.ToLower(fname)] = i
		}
		if !f.DataType.Known() {
			errs = append(errs, model.FieldError{
				Field: path + ".data_type", Code: CodeInvalidType,
				Message:    fmt.Sprintf("unknown data type %q", f.DataType),
				FieldIndex: model.IntPtr(i),
			})
		}
	}

	errs = append(errs, validateKey(d)...)
	return errs
}

func validateKey(d model.DomainDesign) []model.FieldError {
	if d.KeyType == "" && d.KeyName == "" {
		return nil
	}

	var want model.DataType
	switch d.KeyType {
	case model.KeyTypeAutoIncrement, model.KeyTypeInteger:
		want = model.DataTypeInteger
	case model.KeyTypeVarchar:
		want = model.DataTypeString
	default:
		return []model.FieldError{{
			Field: "key_type", Code: CodeInvalidType,
			Message: fmt.Sprintf("unknown key type %q", d.KeyType),
		}}
	}

	idx := -1
	for i, f := range d.Fields {
		if strings.EqualFold(strings.TrimSpace(f.Name), d.KeyName) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return []model.FieldError{{
			Field: "key_name", Code: CodeKeyNotFound,
			Message: fmt.Sprintf("key field %q does not exist", d.KeyName),
		}}
	}
	if d.Fields[idx].DataType != want {
		return []model.FieldError{{
			Field: fmt.Sprintf("fields[%d].data_type", idx), Code: CodeKeyTypeMismatch,
			Message:    fmt.Sprintf("key type %s requires a %s field", d.KeyType, want),
			FieldIndex: model.IntPtr(idx),
		}}
	}
	return nil
}

// checkKeyUnchanged rejects an update that moves the key of a stored domain.
func checkKeyUnchanged(stored, next model.DomainDesign) []model.FieldError {
	if stored.KeyType == "" {
		return nil
	}
	if strings.EqualFold(stored.KeyName, next.KeyName) && stored.KeyType == next.KeyType {
		return nil
	}
	return []model.FieldError{{
		Field: "key_name", Code: CodeKeyChanged,
		Message: fmt.Sprintf("the key of a saved domain cannot change from %q", stored.KeyName),
	}}
}
