package api

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// custom validation tags
const (
	notBlankTag   = "notblank"
	cardIDTag     = "cardid"
	cardOrCodeTag = "card_or_code"
)

// newValidator returns a validator reporting JSON field names, with English
// messages registered on the returned translator.
func newValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = validate.RegisterValidation(cardIDTag, cardIDValidation)
	validate.RegisterStructValidation(checkInStructValidation, checkInRequest{})

	// the default translations are already registered, so a noop
	// RegisterTranslationsFunc satisfies the API
	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range []string{notBlankTag, cardIDTag, cardOrCodeTag} {
		_ = validate.RegisterTranslation(tag, translator, registerFn, translateCustomErrs)
	}
	return validate, translator
}

func translateCustomErrs(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return "this field cannot be blank"
	case cardIDTag:
		return "must be a hexadecimal card id"
	case cardOrCodeTag:
		return "one of card_id or code is required"
	default:
		return ""
	}
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

// cardIDValidation accepts hex digits with optional ':' or '-' separators.
func cardIDValidation(fl validator.FieldLevel) bool {
	str, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	digits := 0
	for _, r := range strings.TrimSpace(str) {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			digits++
		case r == ':' || r == '-':
		default:
			return false
		}
	}
	return digits > 0
}

func checkInStructValidation(sl validator.StructLevel) {
	req, ok := sl.Current().Interface().(checkInRequest)
	if !ok {
		return
	}
	if strings.TrimSpace(req.CardID) == "" && strings.TrimSpace(req.Code) == "" {
		sl.ReportError(req.CardID, "card_id", "CardID", cardOrCodeTag, "")
		sl.ReportError(req.Code, "code", "Code", cardOrCodeTag, "")
	}
}
