package fieldmap

import "sort"

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func confidenceRank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// Suggestion proposes mapping one unmapped source field onto one unmapped
// target field.
type Suggestion struct {
	SourceField    string     `json:"source_field"`
	TargetField    string     `json:"target_field"`
	Similarity     float64    `json:"similarity"`
	Confidence     Confidence `json:"confidence"`
	FromDictionary bool       `json:"from_dictionary"`
}

// ExistingMapping is the already-active pair; both its sides are excluded
// from new suggestions.
type ExistingMapping struct {
	SourceField string
	TargetField string
}

// synonymGroups is the static dictionary of well-known lead-field synonyms
// across the CRMs this pipeline has been pointed at (several are Brazilian
// Portuguese). Matching any group yields a high-confidence suggestion.
var synonymGroups = [][]string{
	{"name", "nome", "full_name", "contact_name"},
	{"email", "e_mail", "mail", "email_address", "correo"},
	{"phone", "telefone", "telephone", "phone_number", "tel", "fone"},
	{"mobile", "celular", "mobile_phone", "cell", "cellphone", "whatsapp"},
	{"company", "empresa", "organization", "company_name"},
	{"source", "origem", "lead_source", "utm_source"},
	{"stage", "etapa", "pipeline_stage", "funnel_stage"},
	{"notes", "observacoes", "obs", "comments", "description"},
	{"created_at", "criado", "data_criacao", "creation_date"},
	{"updated_at", "atualizado", "modificado", "data_atualizacao", "last_modified"},
}

// synonymGroupOf maps each normalized synonym to its group index.
var synonymGroupOf = func() map[string]int {
	m := make(map[string]int)
	for i, group := range synonymGroups {
		for _, name := range group {
			m[Normalize(name)] = i
		}
	}
	return m
}()

func isSynonymPair(a, b string) bool {
	ga, ok := synonymGroupOf[a]
	if !ok {
		return false
	}
	gb, ok := synonymGroupOf[b]
	return ok && ga == gb
}

const suggestionThreshold = 0.5

// SuggestMappings proposes mappings for every unmapped source/target pair.
// Dictionary hits are high confidence with similarity 1.0; otherwise the
// similarity of the normalized names must reach 0.5, with confidence tiers at
// 0.9 (high) and 0.7 (medium). Fields that appear on either side of an
// existing mapping are excluded, so a field with an active mapping is never
// suggested again. Output ordering is fully deterministic.
func SuggestMappings(sourceFields, targetFields []string, existing []ExistingMapping) []Suggestion {
	mappedSource := make(map[string]bool, len(existing))
	mappedTarget := make(map[string]bool, len(existing))
	for _, m := range existing {
		mappedSource[Normalize(m.SourceField)] = true
		mappedTarget[Normalize(m.TargetField)] = true
	}

	var suggestions []Suggestion
	for _, src := range sourceFields {
		normSrc := Normalize(src)
		if mappedSource[normSrc] {
			continue
		}
		for _, dst := range targetFields {
			normDst := Normalize(dst)
			if mappedTarget[normDst] {
				continue
			}

			if isSynonymPair(normSrc, normDst) {
				suggestions = append(suggestions, Suggestion{
					SourceField:    src,
					TargetField:    dst,
					Similarity:     1.0,
					Confidence:     ConfidenceHigh,
					FromDictionary: true,
				})
				continue
			}

			sim := Similarity(normSrc, normDst)
			if sim < suggestionThreshold {
				continue
			}
			confidence := ConfidenceLow
			if sim >= 0.9 {
				confidence = ConfidenceHigh
			} else if sim >= 0.7 {
				confidence = ConfidenceMedium
			}
			suggestions = append(suggestions, Suggestion{
				SourceField: src,
				TargetField: dst,
				Similarity:  sim,
				Confidence:  confidence,
			})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if confidenceRank(a.Confidence) != confidenceRank(b.Confidence) {
			return confidenceRank(a.Confidence) > confidenceRank(b.Confidence)
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.SourceField != b.SourceField {
			return a.SourceField < b.SourceField
		}
		return a.TargetField < b.TargetField
	})
	return suggestions
}
