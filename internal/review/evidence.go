package review

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// KeywordTable maps a field to the keywords that link it to a segment
type KeywordTable map[entities.FieldName][]string

// DefaultKeywordTable returns the built-in keyword table
func DefaultKeywordTable() KeywordTable {
	table, err := ParseKeywordTable(defaultKeywordsYAML)
	if err != nil {
		panic(fmt.Sprintf("review: embedded keyword table: %v", err))
	}
	return table
}

// LoadKeywordTable reads a keyword table override from a YAML file
func LoadKeywordTable(path string) (KeywordTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyword table: %w", err)
	}
	return ParseKeywordTable(data)
}

// ParseKeywordTable parses a YAML mapping of field name to keyword list
func ParseKeywordTable(data []byte) (KeywordTable, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse keyword table: %w", err)
	}

	table := make(KeywordTable, len(raw))
	for field, keywords := range raw {
		name := entities.FieldName(field)
		if !entities.IsKnownField(name) {
			return nil, fmt.Errorf("keyword table: unknown field %q", field)
		}
		lowered := make([]string, 0, len(keywords))
		for _, kw := range keywords {
			if kw == "" {
				continue
			}
			lowered = append(lowered, strings.ToLower(kw))
		}
		table[name] = lowered
	}
	return table, nil
}

// AssignEvidence links each non-missing field to the segments that mention
// one of its keywords. A field with no hits keeps its previous evidence, and
// one segment may support many fields. The input form is not modified.
func AssignEvidence(form entities.IntakeForm, segments []entities.TranscriptSegment, table KeywordTable) entities.IntakeForm {
	out := form.Clone()

	lowered := make([]string, len(segments))
	for i, seg := range segments {
		lowered[i] = strings.ToLower(seg.Text)
	}

	for field, keywords := range table {
		if len(keywords) == 0 {
			continue
		}
		view, ok := out.View(field)
		if !ok || view.Status == entities.FieldStatusMissing {
			continue
		}

		var ids []string
		for i, text := range lowered {
			if containsAny(text, keywords) {
				ids = append(ids, segments[i].ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		if field == entities.FieldMedications {
			out.Medications.EvidenceIDs = ids
		} else {
			out.Text[field].EvidenceIDs = ids
		}
	}
	return out
}

// EvidenceFor returns the segments backing a field, in transcript order
func EvidenceFor(form entities.IntakeForm, field entities.FieldName, segments []entities.TranscriptSegment) []entities.TranscriptSegment {
	view, ok := form.View(field)
	if !ok || len(view.EvidenceIDs) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(view.EvidenceIDs))
	for _, id := range view.EvidenceIDs {
		wanted[id] = struct{}{}
	}
	var out []entities.TranscriptSegment
	for _, seg := range segments {
		if _, ok := wanted[seg.ID]; ok {
			out = append(out, seg)
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
