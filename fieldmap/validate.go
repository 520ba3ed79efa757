package fieldmap

import "fmt"

// ValidationResult is the outcome of checking a proposed source/target type
// pair before a mapping is activated.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// ValidateMapping must be called before any mapping row is activated.
// Compatible types validate silently; incompatible types with a known
// transformation validate with one warning naming it; anything else is
// invalid with one error.
func ValidateMapping(sourceType, targetType string) ValidationResult {
	if AreTypesCompatible(sourceType, targetType) {
		return ValidationResult{Valid: true}
	}

	if t, ok := SuggestTransformation(sourceType, targetType); ok {
		return ValidationResult{
			Valid: true,
			Warnings: []string{
				fmt.Sprintf("types %q and %q are not directly compatible; transformation %q will be applied", sourceType, targetType, t),
			},
		}
	}

	return ValidationResult{
		Valid: false,
		Errors: []string{
			fmt.Sprintf("no known transformation from %q to %q; mapping requires manual handling", sourceType, targetType),
		},
	}
}
