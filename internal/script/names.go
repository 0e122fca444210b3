package script

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

var initialisms = strings.NewReplacer("ID", "Id", "URL", "Url", "JSON", "Json", "HTTP", "Http")

// fieldNameMapper exposes Go fields and methods in JavaScript camel case:
// UserID becomes userId, AvatarURL becomes avatarUrl. A field with a js tag
// is exposed under the tag instead, e.g. `js:"INFO_COLOR"`.
type fieldNameMapper struct{}

func (fieldNameMapper) FieldName(_ reflect.Type, f reflect.StructField) string {
	if tag := f.Tag.Get("js"); tag != "" {
		return tag
	}
	return jsName(f.Name)
}

func (fieldNameMapper) MethodName(_ reflect.Type, m reflect.Method) string {
	return jsName(m.Name)
}

func jsName(goName string) string {
	s := initialisms.Replace(goName)
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[n:]
}
