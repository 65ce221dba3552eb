package cache

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed static_table.yaml
var defaultStaticTable []byte

// StaticEntry pairs a lowercase keyword phrase with its canned tip.
type StaticEntry struct {
	Phrase string `yaml:"phrase"`
	Tip    string `yaml:"tip"`
}

// StaticTable is an immutable, ordered phrase table shared by all sessions.
type StaticTable struct {
	entries []StaticEntry
}

// DefaultStaticTable parses the embedded table.
func DefaultStaticTable() (*StaticTable, error) {
	return ParseStaticTable(defaultStaticTable)
}

// LoadStaticTable reads a YAML table from path. An empty path loads the
// embedded default.
func LoadStaticTable(path string) (*StaticTable, error) {
	if path == "" {
		return DefaultStaticTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read static table %s: %w", path, err)
	}
	table, err := ParseStaticTable(data)
	if err != nil {
		return nil, fmt.Errorf("static table %s: %w", path, err)
	}
	return table, nil
}

// ParseStaticTable decodes a YAML sequence of {phrase, tip}. Phrases are
// lowercased; file order is lookup order.
func ParseStaticTable(data []byte) (*StaticTable, error) {
	var entries []StaticEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStaticTable, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidStaticTable)
	}
	for i := range entries {
		entries[i].Phrase = strings.ToLower(strings.TrimSpace(entries[i].Phrase))
		if entries[i].Phrase == "" || strings.TrimSpace(entries[i].Tip) == "" {
			return nil, fmt.Errorf("%w: entry %d needs a phrase and a tip", ErrInvalidStaticTable, i)
		}
	}
	return &StaticTable{entries: entries}, nil
}

// NewStaticTable builds a table from entries in the given order.
func NewStaticTable(entries ...StaticEntry) *StaticTable {
	out := make([]StaticEntry, len(entries))
	for i, e := range entries {
		out[i] = StaticEntry{Phrase: strings.ToLower(e.Phrase), Tip: e.Tip}
	}
	return &StaticTable{entries: out}
}

// Lookup returns the tip of the first phrase contained in the lowercased
// question.
func (t *StaticTable) Lookup(questionText string) (string, bool) {
	if t == nil {
		return "", false
	}
	lower := strings.ToLower(questionText)
	for _, e := range t.entries {
		if strings.Contains(lower, e.Phrase) {
			return e.Tip, true
		}
	}
	return "", false
}

func (t *StaticTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
