package guideline

import (
	"strings"

	"guidechat/types"
)

// Resolve turns raw document records into deduplicated selectable options.
// The dedup key is the external guideline id when present, else the document
// id. For documents sharing a key the first encountered wins as the
// representative; output preserves insertion order. Documents missing display
// fields get best-effort labels instead of failing.
func Resolve(documents []types.Document) []types.GuidelineOption {
	seen := make(map[string]struct{}, len(documents))
	options := make([]types.GuidelineOption, 0, len(documents))

	for _, doc := range documents {
		value := doc.GuidelineID()
		if value == "" {
			value = doc.ID.String()
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}

		options = append(options, types.GuidelineOption{
			Value:    value,
			Label:    doc.Title(),
			Document: doc,
		})
	}
	return options
}

// ByConditionAndType filters documents by clinical condition and guideline
// type. An empty condition short-circuits to the empty result; this is the
// defined unselected-state behavior, not an error. The type filter is
// optional. Matching is case-insensitive.
func ByConditionAndType(condition, guidelineType string, documents []types.Document) []types.Document {
	result := make([]types.Document, 0, len(documents))
	if condition == "" {
		return result
	}

	for _, doc := range documents {
		if doc.Metadata == nil {
			continue
		}
		if !strings.EqualFold(doc.Metadata.Condition, condition) {
			continue
		}
		if guidelineType != "" && !strings.EqualFold(doc.Metadata.GuidelineType, guidelineType) {
			continue
		}
		result = append(result, doc)
	}
	return result
}
