package meta

import (
	"regexp"
	"strings"

	"github.com/kitebase/kitebase/pkg/errdef"
)

// maxDescriptionLen bounds type and field descriptions.
const maxDescriptionLen = 1000

// apiNameRe validates api names: a letter followed by letters and digits.
// Underscores are excluded so the derived snake_case column names stay
// collision-free and the names are always safely quotable.
var apiNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// reservedNames may not be used as api names. They cover the built-in
// identifier column plus SQL keywords that would make generated queries
// hostile to read even when quoted.
var reservedNames = map[string]bool{
	"id": true, "kid": true,
	"select": true, "from": true, "where": true, "order": true, "by": true,
	"and": true, "or": true, "not": true, "in": true, "like": true,
	"is": true, "null": true, "limit": true, "offset": true,
	"table": true, "index": true, "group": true,
}

// validateAPIName checks an api name for a type or field.
func validateAPIName(name string) error {
	if name == "" {
		return errdef.SchemaDefinition("api name must not be empty")
	}
	if len(name) > 64 {
		return errdef.SchemaDefinition("api name %q exceeds 64 characters", name)
	}
	if !apiNameRe.MatchString(name) {
		return errdef.SchemaDefinition("api name %q contains invalid characters (want a letter followed by letters or digits)", name)
	}
	if reservedNames[strings.ToLower(name)] {
		return errdef.SchemaDefinition("api name %q is reserved", name)
	}
	return nil
}

// validateDescription bounds description length.
func validateDescription(desc string) error {
	if len(desc) > maxDescriptionLen {
		return errdef.SchemaDefinition("description exceeds %d characters", maxDescriptionLen)
	}
	return nil
}

// columnName derives the physical column name for an api name:
// lowerCamel/UpperCamel becomes snake_case.
func columnName(apiName string) string {
	var b strings.Builder
	for i, r := range apiName {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// labelFor derives a human label from an api name when none was given:
// "firstName" becomes "First Name".
func labelFor(apiName string) string {
	var b strings.Builder
	for i, r := range apiName {
		if i == 0 {
			if r >= 'a' && r <= 'z' {
				r = r - 'a' + 'A'
			}
			b.WriteRune(r)
			continue
		}
		if r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
