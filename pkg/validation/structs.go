package validation

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct checks v against its validate struct tags and reports each
// violated field as a config error at its namespace path.
func ValidateStruct(v any) *Report {
	r := NewReport()
	err := structValidator.Struct(v)
	if err == nil {
		return r
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		r.AddError(Finding{Stage: StageConfig, Code: CodeConstraint, At: FieldRef(""), Message: err.Error()})
		return r
	}
	for _, fe := range fields {
		expected := fe.Tag()
		if fe.Param() != "" {
			expected += "=" + fe.Param()
		}
		r.AddError(Finding{
			Stage:   StageConfig,
			Code:    CodeConstraint,
			At:      FieldRef(fe.Namespace()),
			Message: fmt.Sprintf("%s fails %s", fe.Namespace(), expected),
			Got:     fe.Value(),
			Want:    expected,
		})
	}
	return r
}

// Err returns nil for a valid report and an error listing every error
// message otherwise.
func (r *Report) Err() error {
	if r.Valid {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = errors.New(e.Message)
	}
	return errors.Join(errs...)
}
