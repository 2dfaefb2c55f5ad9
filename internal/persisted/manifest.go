package persisted

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// apolloManifest is the operations-list manifest format:
// {"format":"apollo-persisted-query-manifest","operations":[{"id":..,"body":..}]}.
type apolloManifest struct {
	Format     string `json:"format"`
	Operations []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Body string `json:"body"`
	} `json:"operations"`
}

// ParseManifest decodes a manifest into a query table. Both a flat
// {"<id>":"<query>"} object and the operations-list format are accepted.
func ParseManifest(data []byte) (map[string]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errors.New("manifest: expected a JSON object")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	if _, ok := probe["operations"]; ok {
		var m apolloManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("manifest: operations: %w", err)
		}
		table := make(map[string]string, len(m.Operations))
		for i, op := range m.Operations {
			if op.ID == "" {
				return nil, fmt.Errorf("manifest: operations[%d] has no id", i)
			}
			if _, dup := table[op.ID]; dup {
				return nil, fmt.Errorf("manifest: duplicate id %q", op.ID)
			}
			table[op.ID] = op.Body
		}
		return table, nil
	}

	table := make(map[string]string, len(probe))
	for id, raw := range probe {
		var q string
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("manifest: entry %q is not a string", id)
		}
		table[id] = q
	}
	return table, nil
}

// LoadManifestFile reads and decodes a manifest from disk.
func LoadManifestFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ValidateDocuments parses every query in table as a GraphQL document and
// reports the first failure in ID order.
func ValidateDocuments(table map[string]string) error {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		_, err := parser.Parse(parser.ParseParams{
			Source: source.NewSource(&source.Source{
				Body: []byte(table[id]),
				Name: id,
			}),
		})
		if err != nil {
			return fmt.Errorf("persisted query %q: %w", id, err)
		}
	}
	return nil
}
