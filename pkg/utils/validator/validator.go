// Package validator wraps go-playground/validator with translated error
// messages and the custom rules used by the kgrag API.
package validator

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	zhtranslations "github.com/go-playground/validator/v10/translations/zh"
)

// Supported message languages.
const (
	LangEN = "en"
	LangZH = "zh"
)

// Validator validates structs and variables and translates the failures.
type Validator struct {
	validate *validator.Validate
	uni      *ut.UniversalTranslator
	trans    map[string]ut.Translator
}

var (
	global   *Validator
	globalMu sync.RWMutex
	initOnce sync.Once
)

// Global returns the process-wide validator.
func Global() *Validator {
	initOnce.Do(func() {
		globalMu.Lock()
		if global == nil {
			global = New()
		}
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// SetGlobal replaces the process-wide validator.
func SetGlobal(v *Validator) {
	initOnce.Do(func() {})
	globalMu.Lock()
	defer globalMu.Unlock()
	global = v
}

// New creates a validator with English and Chinese translations and the
// custom rules registered.
func New() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())

	// Report json field names instead of Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale, zh.New())

	v := &Validator{
		validate: validate,
		uni:      uni,
		trans:    make(map[string]ut.Translator, 2),
	}

	if trans, ok := uni.GetTranslator(LangEN); ok {
		_ = entranslations.RegisterDefaultTranslations(validate, trans)
		v.trans[LangEN] = trans
	}
	if trans, ok := uni.GetTranslator(LangZH); ok {
		_ = zhtranslations.RegisterDefaultTranslations(validate, trans)
		v.trans[LangZH] = trans
	}

	v.registerCustomRules()
	v.registerCustomTranslations()
	return v
}

// Engine returns the underlying go-playground validator.
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

// GetTranslator returns the translator for lang, or nil if unsupported.
func (v *Validator) GetTranslator(lang string) ut.Translator {
	return v.trans[lang]
}

func (v *Validator) translator(lang string) ut.Translator {
	if trans, ok := v.trans[lang]; ok {
		return trans
	}
	return v.trans[LangEN]
}

// Validate validates a struct and returns the raw validator error.
func (v *Validator) Validate(s any) error {
	return v.validate.Struct(s)
}

// ValidateWithLang validates a struct and returns translated errors, or nil
// when s is valid. Unsupported languages fall back to English.
func (v *Validator) ValidateWithLang(s any, lang string) *ValidationErrors {
	return v.translate(v.validate.Struct(s), lang)
}

// ValidateVar validates a single value against tag.
func (v *Validator) ValidateVar(field any, tag string) error {
	return v.validate.Var(field, tag)
}

// ValidateVarWithLang validates a single value and returns translated errors.
func (v *Validator) ValidateVarWithLang(field any, tag, lang string) *ValidationErrors {
	return v.translate(v.validate.Var(field, tag), lang)
}

// RegisterValidation adds a custom rule.
func (v *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return v.validate.RegisterValidation(tag, fn)
}

// RegisterValidationWithTranslation adds a custom rule together with its
// messages keyed by language.
func (v *Validator) RegisterValidationWithTranslation(tag string, fn validator.Func, messages map[string]string) error {
	if err := v.validate.RegisterValidation(tag, fn); err != nil {
		return err
	}
	for lang, msg := range messages {
		if trans := v.GetTranslator(lang); trans != nil {
			registerTranslation(v.validate, trans, tag, msg)
		}
	}
	return nil
}

func (v *Validator) translate(err error, lang string) *ValidationErrors {
	if err == nil {
		return nil
	}

	errs := &ValidationErrors{}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		errs.AppendError("", err)
		return errs
	}

	trans := v.translator(lang)
	for _, fe := range verrs {
		msg := fe.Error()
		if trans != nil {
			msg = fe.Translate(trans)
		}
		errs.Append(ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fe.Value(),
			Message: msg,
		})
	}
	return errs
}

// Struct validates s with the global validator.
func Struct(s any) error {
	return Global().Validate(s)
}

// StructWithLang validates s with the global validator and translates the errors.
func StructWithLang(s any, lang string) *ValidationErrors {
	return Global().ValidateWithLang(s, lang)
}
