package dto

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/trn-registry-api/internal/models"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("trn", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			if len(v) != 7 {
				return false
			}
			for _, r := range v {
				if r < '0' || r > '9' {
					return false
				}
			}
			return true
		})
	})
	return validate
}

// Validate checks a request struct and reports the offending JSON fields in
// the error details.
func Validate(req interface{}) error {
	err := instance().Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fieldPath(fe.Namespace()))
	}
	return invalidFields(fields)
}

// validateFieldChoices checks every choice body; map values are not reached by
// the struct tags of the enclosing request.
func validateFieldChoices(choices map[models.PersonField]FieldChoiceBody) error {
	keys := make([]string, 0, len(choices))
	for field := range choices {
		keys = append(keys, string(field))
	}
	sort.Strings(keys)

	var fields []string
	for _, key := range keys {
		err := instance().Struct(choices[models.PersonField(key)])
		if err == nil {
			continue
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
		}
		for _, fe := range fieldErrs {
			fields = append(fields, fmt.Sprintf("fieldChoices.%s.%s", key, fe.Field()))
		}
	}
	return invalidFields(fields)
}

// validateEmail checks an optional address; empty means "clear".
func validateEmail(name string, value *string) error {
	if value == nil || *value == "" {
		return nil
	}
	if err := instance().Var(*value, "email,max=254"); err != nil {
		return invalidFields([]string{name})
	}
	return nil
}

func invalidFields(fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	return appErrors.WithDetails(appErrors.ErrValidation,
		"invalid fields: "+strings.Join(fields, ", "),
		map[string]interface{}{"fields": fields})
}

// fieldPath drops the struct name prefix, "MatchRequest.dateOfBirth" -> "dateOfBirth".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// ParseDate reads an ISO calendar date. Empty input yields nil.
func ParseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "dateOfBirth must be YYYY-MM-DD",
			map[string]interface{}{"fields": []string{"dateOfBirth"}})
	}
	return &t, nil
}
