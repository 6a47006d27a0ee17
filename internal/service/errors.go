package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"posgo/backend/internal/domain"
	"posgo/backend/internal/store"
)

// StepError reports a storage failure together with the operation and the
// step that was running. It matches store.ErrPersistence and the cause.
type StepError struct {
	Op   string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{store.ErrPersistence, e.Err}
}

// wrapStep leaves domain errors untouched and wraps anything else coming out
// of the repository as a StepError.
func wrapStep(op string, step string, err error) error {
	if err == nil {
		return nil
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return err
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrPersistence):
		return err
	}
	return &StepError{Op: op, Step: step, Err: err}
}

type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param,omitempty"`
}

// ValidationError is returned before any state changes. It matches
// store.ErrValidation.
type ValidationError struct {
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Tag)
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Message, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error {
	return store.ErrValidation
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidState, fmt.Sprintf(format, args...))
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	if err := v.RegisterValidation("tender", func(fl validator.FieldLevel) bool {
		return isKnownTender(normalizeTender(fl.Field().String()))
	}); err != nil {
		panic(fmt.Sprintf("register tender validation: %v", err))
	}
	return v
}

func (s *Service) validateStruct(payload any) error {
	err := s.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Message: err.Error()}
	}
	out := &ValidationError{Message: "invalid request"}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, FieldError{
			Field: fe.Namespace(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}

func normalizeTender(tender string) string {
	return strings.ToLower(strings.TrimSpace(tender))
}

func isKnownTender(tender string) bool {
	switch tender {
	case domain.TenderCash, domain.TenderCard, domain.TenderYape, domain.TenderPlin,
		domain.TenderTransfer, domain.TenderCredit:
		return true
	default:
		return false
	}
}
