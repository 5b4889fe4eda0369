// Package validation turns validator/v10 failures into field messages that
// API clients can show next to form inputs.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	// gin binds with its own validator instance; report JSON names there too
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonTagName)
	}
}

// Error is returned when a struct fails validation
type Error struct {
	Message string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+" "+msg)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// Validator wraps go-playground/validator for structs that do not come
// through gin binding (imports, service params)
type Validator struct {
	v *validator.Validate
}

// New creates a validator that reports JSON field names
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonTagName)
	return &Validator{v: v}
}

// Validate validates a struct, returning *Error on failure
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return Format(err)
	}
	return nil
}

// Format converts validator errors into *Error. Other errors (malformed
// JSON, wrong types) become an *Error with only a message.
func Format(err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Message: "Invalid request body"}
	}
	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		fields[e.Field()] = friendlyMessage(e)
	}
	return &Error{Message: "Validation failed", Fields: fields}
}

// Respond writes a 400 response describing err
func Respond(c *gin.Context, err error) {
	var verr *Error
	if !errors.As(err, &verr) {
		verr = Format(err)
	}
	c.JSON(http.StatusBadRequest, verr)
}

func jsonTagName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url", "http_url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "min":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s items", e.Param())
		}
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("must not contain more than %s items", e.Param())
		}
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}
