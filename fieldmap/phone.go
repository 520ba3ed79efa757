package fieldmap

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhone formats a lead phone number to E.164 when it parses as a
// valid number for the given ISO region. Unparseable values pass through
// unchanged; phone hygiene must never turn a syncable record into an error.
func NormalizePhone(raw, region string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	p, err := libphonenumber.Parse(trimmed, region)
	if err != nil || !libphonenumber.IsValidNumber(p) {
		return raw
	}
	return libphonenumber.Format(p, libphonenumber.E164)
}

// IsPhoneField reports whether a target field holds a phone number, by
// normalized name against the phone/mobile synonym groups.
func IsPhoneField(name string) bool {
	n := Normalize(name)
	group, ok := synonymGroupOf[n]
	if !ok {
		return false
	}
	return synonymGroups[group][0] == "phone" || synonymGroups[group][0] == "mobile"
}
