package services

import (
	"regexp"

	"github.com/spf13/cast"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Interpolate replaces {{key}} tokens with the string form of data[key].
// Missing or null keys keep their literal token so a bad template is visible in the output.
// Substituted text is not re-scanned.
func Interpolate(template string, data map[string]interface{}) string {
	if template == "" || len(data) == 0 {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		key := placeholderPattern.FindStringSubmatch(token)[1]
		v, ok := data[key]
		if !ok || v == nil {
			return token
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return token
		}
		return s
	})
}
