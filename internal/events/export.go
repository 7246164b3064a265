package events

import (
	"encoding/json"
	"os"
	"sort"
)

// ExportLog writes collected events to a JSON file.
func ExportLog(events []*Event, path string) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
