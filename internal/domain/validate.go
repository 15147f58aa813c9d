package domain

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	v.RegisterStructValidation(questionBounds, Question{})
	return v
}

// questionBounds enforces that the correct index points at an existing option.
func questionBounds(sl validator.StructLevel) {
	q := sl.Current().Interface().(Question)
	if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Options) {
		sl.ReportError(q.CorrectAnswerIndex, "correctAnswerIndex", "CorrectAnswerIndex", "optionbounds", "")
	}
}

// ValidateQuiz checks a quiz is usable by an attempt session.
func ValidateQuiz(q Quiz) error {
	return toValidationError(validate.Struct(q))
}

// ValidateQuestion checks a single question, e.g. one produced by the generator.
func ValidateQuestion(q Question) error {
	return toValidationError(validate.Struct(q))
}

// ValidateStudent checks a roster entry.
func ValidateStudent(s RegisteredStudent) error {
	return toValidationError(validate.Struct(s))
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	problems := make([]Problem, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		// drop the root type name
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		problems = append(problems, Problem{Field: field, Rule: fe.Tag()})
	}
	return &ValidationError{Problems: problems}
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, rule string) error {
	return &ValidationError{Problems: []Problem{{Field: field, Rule: rule}}}
}
