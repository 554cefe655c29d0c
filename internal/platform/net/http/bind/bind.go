// Package bind decodes and validates JSON request bodies
package bind

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"unicode"

	perr "mquery/internal/platform/errors"
	"mquery/internal/platform/logger"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// FieldLevel aliases validator.FieldLevel for custom tag funcs
type FieldLevel = validator.FieldLevel

// Validator bundles the shared validator with its english translator
type Validator struct {
	V     *validator.Validate
	Trans ut.Translator
}

var (
	once sync.Once
	svc  *Validator
)

// Get returns the process validator, building it on first use
func Get() *Validator {
	once.Do(func() {
		loc := en.New()
		trans, _ := ut.New(loc, loc).GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)
		registerLabel(v, trans)

		svc = &Validator{V: v, Trans: trans}
	})
	return svc
}

// RegisterValidation adds a custom tag with an english message
func RegisterValidation(tag, message string, fn validator.Func) error {
	g := Get()
	if err := g.V.RegisterValidation(tag, fn); err != nil {
		return err
	}
	return g.V.RegisterTranslation(tag, g.Trans,
		func(t ut.Translator) error { return t.Add(tag, message, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T(tag, fe.Field(), fe.Param())
			return msg
		},
	)
}

// Options tunes ParseJSON
type Options struct {
	MaxBytes       int64 // default 1MiB
	AllowUnknown   bool
	AllowEmptyBody bool
}

// ParseJSON decodes the body into T and validates it. Decode failures are
// ErrorCodeJSON and rule violations are ErrorCodeValidation with the field set
func ParseJSON[T any](r *http.Request, opts ...Options) (T, error) {
	var zero T
	o := Options{MaxBytes: 1 << 20}
	if len(opts) > 0 {
		o = opts[0]
		if o.MaxBytes == 0 {
			o.MaxBytes = 1 << 20
		}
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			logger.Get().Debug().Err(err).Msg("close request body")
		}
	}()

	dec := json.NewDecoder(io.LimitReader(r.Body, o.MaxBytes))
	if !o.AllowUnknown {
		dec.DisallowUnknownFields()
	}
	var dst T
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			if !o.AllowEmptyBody {
				return zero, perr.JSONErrf("empty body")
			}
		} else {
			return zero, perr.JSONErrf("invalid JSON: %v", err)
		}
	}
	if dec.More() {
		return zero, perr.JSONErrf("unexpected trailing data")
	}

	if err := Get().V.Struct(dst); err != nil {
		var inv *validator.InvalidValidationError
		if errors.As(err, &inv) {
			return zero, perr.Internalf("validator: %v", inv)
		}
		field, msg := FieldAndMessage(err)
		return zero, perr.WithField(perr.Validationf("%s", msg), field)
	}
	return dst, nil
}

// FieldAndMessage returns the first failing field and its translated message
func FieldAndMessage(err error) (field, message string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field(), verrs[0].Translate(Get().Trans)
	}
	if err == nil {
		return "", ""
	}
	return "", err.Error()
}

// registerLabel adds the "label" tag used for taint labels: 1..128 printable
// characters without quotes or whitespace
func registerLabel(v *validator.Validate, trans ut.Translator) {
	_ = v.RegisterValidation("label", func(fl validator.FieldLevel) bool {
		return ValidLabel(fl.Field().String())
	})
	_ = v.RegisterTranslation("label", trans,
		func(t ut.Translator) error {
			return t.Add("label", "{0} must be 1-128 printable characters without quotes or spaces", true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T("label", fe.Field())
			return msg
		},
	)
}

// ValidLabel reports whether s is usable as a taint label
func ValidLabel(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		if r == '"' || r == '\'' || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
