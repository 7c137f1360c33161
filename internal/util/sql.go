package util

import (
	"strings"

	"github.com/lib/pq"
)

// QuoteIdentifier quotes an identifier with double quotes, escaping any
// embedded quotes.
func QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteStringIdentifiers quotes a slice of identifiers with double quotes
func QuoteStringIdentifiers(vals []string) []string {
	res := make([]string, len(vals))
	for i, val := range vals {
		res[i] = QuoteIdentifier(val)
	}
	return res
}

// TableRef returns a schema-qualified, quoted table reference.
func TableRef(namespace string, table string) string {
	var ref strings.Builder
	ref.WriteString(QuoteIdentifier(namespace))
	ref.WriteString(".")
	ref.WriteString(QuoteIdentifier(table))
	return ref.String()
}
