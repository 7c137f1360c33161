// Package naming maps between database identifiers (snake_case table and
// column names) and the camel/pascal-cased names exposed by the generated
// operation surface.
package naming

import (
	"regexp"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
)

var spaces = regexp.MustCompile(`\s+`)
var underscores = regexp.MustCompile(`_+`)

// ReplaceSpaces replaces runs of whitespace with the separator.
func ReplaceSpaces(s string, sep string) string {
	return spaces.ReplaceAllString(s, sep)
}

// ToSnakeCase converts a name to snake_case, collapsing spaces and repeated
// underscores.
func ToSnakeCase(s string) string {
	return underscores.ReplaceAllString(strcase.ToSnake(ReplaceSpaces(s, "_")), "_")
}

// ToSnakeCaseAll converts each name in the slice to snake_case.
func ToSnakeCaseAll(vals []string) []string {
	res := make([]string, len(vals))
	for i, val := range vals {
		res[i] = ToSnakeCase(val)
	}
	return res
}

// ToCamelCase converts a name to lowerCamelCase.
func ToCamelCase(s string) string {
	return strcase.ToLowerCamel(s)
}

// ToTitleCase converts a name to PascalCase.
func ToTitleCase(s string) string {
	return strcase.ToCamel(s)
}

// ToPlural returns the plural form of a word, normalizing through the
// singular first so already-plural input is left stable.
func ToPlural(s string) string {
	return inflection.Plural(inflection.Singular(s))
}

// ToSingular returns the singular form of a word.
func ToSingular(s string) string {
	return inflection.Singular(s)
}

// ToModelName derives the model type name for a table.
// "learners" => "Learner", "learner_courses" => "LearnerCourse"
func ToModelName(s string) string {
	return ToTitleCase(ToSingular(s))
}

// ToCollectionName derives the collection field name for a table.
// "learner_courses" => "learnerCourses"
func ToCollectionName(s string) string {
	return ToCamelCase(ToPlural(s))
}

// ToTableName derives the table name for a model or collection name.
// "Learner" => "learners", "LearnerCourse" => "learner_courses"
func ToTableName(s string) string {
	return ToSnakeCase(ToPlural(s))
}

// CamelizeKeys returns a copy of a row map with every key camel-cased.
func CamelizeKeys(row map[string]any) map[string]any {
	res := make(map[string]any, len(row))
	for k, v := range row {
		res[ToCamelCase(k)] = v
	}
	return res
}
