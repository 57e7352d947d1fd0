package pagedoc

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	FileExtension = ".json"
	fallbackSlug  = "untitled"
	maxSlugLength = 100
)

var nonSlugChars = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Slug lowercases name and joins its alphanumeric runs with hyphens.
func Slug(name string) string {
	str := nonSlugChars.ReplaceAllString(name, " ")
	str = strings.ToLower(str)
	str = strings.Join(strings.Fields(str), "-")
	if len(str) > maxSlugLength {
		str = str[:maxSlugLength]
	}
	str = strings.Trim(str, "-")
	if str == "" {
		return fallbackSlug
	}
	return str
}

func Filename(name string) string {
	return Slug(name) + FileExtension
}

func IsFilename(ref string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(ref)), FileExtension)
}

// NameFromFilename is the last-resort title for a page whose document
// carries none: "page-2.json" becomes "Page 2".
func NameFromFilename(filename string) string {
	stem := strings.TrimSuffix(strings.TrimSpace(filename), FileExtension)
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return "Untitled"
	}
	return strings.Join(words, " ")
}
