package lease

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-z][a-z0-9_]*)\s*\}\}`)

// merge substitutes every {{key}} in the builder config. Declared merge
// fields fall back to their default; a required field with neither value nor
// default fails. Placeholders with no declaration and no value stay as they
// are.
func merge(cfg BuilderConfig, fields []MergeField, values map[string]string) (ComposedDocument, error) {
	resolved := make(map[string]string, len(fields)+len(values))
	var missing []string
	for _, mf := range fields {
		v, ok := values[mf.Key]
		if !ok || strings.TrimSpace(v) == "" {
			v = mf.DefaultValue
		}
		if v == "" && mf.Required {
			missing = append(missing, mf.Key)
			continue
		}
		resolved[mf.Key] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ComposedDocument{}, fmt.Errorf("%w: %s", ErrMissingMergeValue, strings.Join(missing, ", "))
	}
	for k, v := range values {
		if _, ok := resolved[k]; !ok {
			resolved[k] = v
		}
	}

	sub := func(s string) string {
		return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
			key := placeholderRe.FindStringSubmatch(m)[1]
			if v, ok := resolved[key]; ok {
				return v
			}
			return m
		})
	}

	doc := ComposedDocument{Title: sub(cfg.Title), Sections: make([]Section, 0, len(cfg.Sections))}
	for _, sec := range cfg.Sections {
		doc.Sections = append(doc.Sections, Section{Heading: sub(sec.Heading), Body: sub(sec.Body)})
	}
	return doc, nil
}
