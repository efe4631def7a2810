package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their json (or query) name so error paths match what clients sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ReadAndValidateRequest binds the body or query, applies `default` tags and validates.
// The result is nil or a []ValidationError ready for a 400 response.
func ReadAndValidateRequest(c echo.Context, req any) []ValidationError {
	if err := c.Bind(req); err != nil {
		return validationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return validationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validationErrors(err)
	}
	return nil
}

func validationErrors(err error) []ValidationError {
	var fes validator.ValidationErrors
	if errors.As(err, &fes) {
		out := make([]ValidationError, 0, len(fes))
		for _, fe := range fes {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fieldPath(fe),
				Message: errorMessage(fe),
				Params:  errorParams(fe),
			})
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_BIND", Message: msg}}
}

// fieldPath drops the request struct name: "AnalyzeRequest.series" becomes "series".
func fieldPath(fe validator.FieldError) string {
	_, rest, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return rest
}

var simpleMessages = map[string]string{
	"required": "%s is required",
	"dive":     "%s has an invalid element",
	"uuid":     "%s must be a UUID",
	"url":      "%s must be a URL",
}

var boundMessages = map[string]string{
	"gt":  "%s must be greater than %s",
	"gte": "%s must be at least %s",
	"lt":  "%s must be less than %s",
	"lte": "%s must be at most %s",
	"min": "%s must have at least %s",
	"max": "%s must have at most %s",
}

func errorMessage(fe validator.FieldError) string {
	field := fe.Field()
	if f, ok := simpleMessages[fe.Tag()]; ok {
		return fmt.Sprintf(f, field)
	}
	if f, ok := boundMessages[fe.Tag()]; ok {
		param := fe.Param()
		if fe.Tag() == "min" || fe.Tag() == "max" {
			switch fe.Kind() {
			case reflect.String:
				param += " characters"
			case reflect.Slice, reflect.Map, reflect.Array:
				param += " items"
			default:
				f = boundMessages[map[string]string{"min": "gte", "max": "lte"}[fe.Tag()]]
			}
		}
		return fmt.Sprintf(f, field, param)
	}
	if fe.Tag() == "oneof" {
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	}
	return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
}

func errorParams(fe validator.FieldError) map[string]any {
	switch fe.Tag() {
	case "min", "gte":
		return map[string]any{"min": fe.Param()}
	case "max", "lte":
		return map[string]any{"max": fe.Param()}
	case "gt", "lt":
		return map[string]any{"value": fe.Param()}
	case "oneof":
		return map[string]any{"options": strings.Split(fe.Param(), " ")}
	}
	return nil
}
