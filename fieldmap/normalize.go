// Package fieldmap is the pure field-mapping engine: name normalization,
// similarity scoring, type compatibility, transformation suggestion and
// mapping validation. It performs no I/O; both the real-time queue path and
// the batch job path shape payloads through it.
package fieldmap

import "strings"

// vendorPrefixes are field-name prefixes various CRMs and form builders bolt
// onto custom fields. Stripped before names are compared.
var vendorPrefixes = []string{
	"custom_",
	"cf_",
	"fld_",
	"attr_",
	"x_",
}

// Normalize makes heterogeneous naming conventions comparable: lower-case,
// strip vendor prefixes, collapse whitespace/underscore/dash runs into single
// underscores.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))

	for _, prefix := range vendorPrefixes {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			s = s[len(prefix):]
			break
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	lastSep := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '_', '-':
			if !lastSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			lastSep = true
		default:
			b.WriteRune(r)
			lastSep = false
		}
	}
	return strings.TrimRight(b.String(), "_")
}
