// Package binder decodes request bodies and query strings into payload
// structs, then trims, defaults and validates them.
package binder

import (
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/mold/v4"
	"github.com/go-playground/mold/v4/modifiers"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/segmentio/encoding/json"
	"github.com/tankobon/tankobon/pkg/errcodes"
)

// Context keys a handler can set before calling Bind.
const (
	DisallowEmptyBodyKey     = "disallow_empty_body"
	DisallowUnknownFieldsKey = "disallow_unknown_fields"
)

var unknownFieldRE = regexp.MustCompile(`unknown field "(.*)"`)

// Binder implements echo.Binder.
type Binder struct {
	query    *schema.Decoder
	conform  *mold.Transformer
	validate *validator.Validate
}

func New() (*Binder, error) {
	query := schema.NewDecoder()
	query.SetAliasTag("query")

	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
	if err := validate.RegisterValidation(catalogID, catalogIDValidator); err != nil {
		return nil, errors.WithStack(err)
	}

	return &Binder{
		query:    query,
		conform:  modifiers.New(),
		validate: validate,
	}, nil
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// Bind fills i from the JSON body, or from the query string for body-less GET
// and DELETE requests, and then runs mod, default and validate tags.
func (b *Binder) Bind(i interface{}, c echo.Context) error {
	req := c.Request()

	switch {
	case req.ContentLength > 0:
		if err := b.bindJSON(i, c); err != nil {
			return err
		}
	case req.Method == http.MethodGet || req.Method == http.MethodDelete:
		if err := b.bindQuery(i, c.QueryParams()); err != nil {
			return err
		}
	case flag(c, DisallowEmptyBodyKey):
		return errcodes.EmptyRequestBody()
	}

	return b.finish(i, c)
}

func (b *Binder) bindJSON(i interface{}, c echo.Context) error {
	req := c.Request()
	if !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return errcodes.UnsupportedMediaType()
	}
	defer req.Body.Close()

	dec := json.NewDecoder(req.Body)
	if flag(c, DisallowUnknownFieldsKey) {
		dec.DisallowUnknownFields()
	}
	err := dec.Decode(i)
	if err == nil {
		return nil
	}

	if m := unknownFieldRE.FindStringSubmatch(err.Error()); len(m) > 1 {
		return errcodes.UnknownParameter(m[1])
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return errcodes.ValidationTypeError(formatUnmarshalTypeError(typeErr))
	}

	logger.FromEchoContext(c).Err(err).Warn("malformed json payload")
	return errcodes.MalformedPayload()
}

func (b *Binder) bindQuery(i interface{}, params url.Values) error {
	err := b.query.Decode(i, params)
	if err == nil {
		return nil
	}

	multi, ok := err.(schema.MultiError)
	if !ok {
		return errors.WithStack(err)
	}
	// Report one problem at a time, same as validation.
	for _, e := range multi {
		switch e := e.(type) {
		case schema.ConversionError:
			return errcodes.ValidationTypeError(formatSchemaConversionError(e))
		case schema.UnknownKeyError:
			return errcodes.UnknownParameter(e.Key)
		default:
			return errors.WithStack(e)
		}
	}
	return nil
}

func (b *Binder) finish(i interface{}, c echo.Context) error {
	if err := b.conform.Struct(c.Request().Context(), i); err != nil {
		return errors.WithStack(err)
	}
	if err := defaults.Set(i); err != nil {
		return errors.WithStack(err)
	}

	err := b.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WithStack(err)
	}
	return errcodes.ValidationError(formatValidationError(verrs[0]))
}

// flag reads a bool context value, defaulting to true.
func flag(c echo.Context, key string) bool {
	if v, ok := c.Get(key).(bool); ok {
		return v
	}
	return true
}
