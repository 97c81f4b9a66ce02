package validator

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Custom validation tags
const (
	TagSafeString   = "safestring"   // Safe string (no SQL injection, XSS patterns)
	TagNoWhitespace = "nowhitespace" // No whitespace characters
	TagTrimmed      = "trimmed"      // String should be trimmed (no leading/trailing spaces)
	TagGraphName    = "kgname"       // Knowledge graph node name or keyword
)

// MaxGraphNameLength bounds kgname values in runes.
const MaxGraphNameLength = 256

// Dangerous patterns for safe string validation
var dangerousPatterns = []string{
	"<script", "</script>", "javascript:",
	"MATCH (", "DETACH DELETE", "CALL DB.", "CALL APOC.",
	"/*", "*/",
}

// registerCustomRules registers all custom validation rules.
func (v *Validator) registerCustomRules() {
	_ = v.validate.RegisterValidation(TagSafeString, validateSafeString)
	_ = v.validate.RegisterValidation(TagNoWhitespace, validateNoWhitespace)
	_ = v.validate.RegisterValidation(TagTrimmed, validateTrimmed)
	_ = v.validate.RegisterValidation(TagGraphName, validateGraphName)
}

// validateSafeString checks for script and Cypher injection patterns.
func validateSafeString(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}

	upperValue := strings.ToUpper(value)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(upperValue, pattern) {
			return false
		}
	}
	return true
}

// validateNoWhitespace validates that string contains no whitespace.
func validateNoWhitespace(fl validator.FieldLevel) bool {
	for _, char := range fl.Field().String() {
		if unicode.IsSpace(char) {
			return false
		}
	}
	return true
}

// validateTrimmed validates that string has no leading/trailing whitespace.
func validateTrimmed(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == strings.TrimSpace(value)
}

// validateGraphName accepts printable names of bounded length.
// Empty values are left to 'required'.
func validateGraphName(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	if strings.TrimSpace(value) == "" || utf8.RuneCountInString(value) > MaxGraphNameLength {
		return false
	}
	for _, char := range value {
		if unicode.IsControl(char) {
			return false
		}
	}
	return true
}
