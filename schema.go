package runtime

import "github.com/go-playground/validator/v10"

// validatorInstance is shared across schemas the way a process-wide
// validator is conventionally cached (validator.New() builds reusable
// struct-tag caches internally).
var validatorInstance = validator.New()

// NewStructSchema builds a Schema that validates v (a pointer to a
// struct, or a value whose zero type is used only for its struct
// tags) using `validate:"..."` tags via go-playground/validator,
// grounded on the same library r3e-network-service_layer depends on
// for request validation.
func NewStructSchema(name string, sample any) *Schema {
	return &Schema{
		name:   name,
		target: sample,
		parse: func(v any) (any, error) {
			if v == nil {
				return nil, newKernelError(ErrValidation, "%s: nil value", name)
			}
			if err := validatorInstance.Struct(v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// NewFuncSchema builds a Schema from an arbitrary parse function, for
// callers whose input isn't a struct (e.g. a bare string/int) or who
// need custom coercion beyond struct tags.
func NewFuncSchema(name string, parse func(v any) (any, error)) *Schema {
	return &Schema{name: name, parse: parse}
}

// Parse runs the schema's validation/coercion, wrapping any failure as
// a ValidationError (§4.8, §7).
func (s *Schema) Parse(v any) (any, error) {
	if s == nil {
		return v, nil
	}
	out, err := s.parse(v)
	if err != nil {
		return nil, ValidationError(s.name, err)
	}
	return out, nil
}
