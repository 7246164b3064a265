package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText produces a human-readable summary of a pass.
func FormatText(p *Plan) string {
	if !p.HasChanges {
		return "No changes. Site is up-to-date.\n"
	}

	c := p.Counts()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pass: %d created, %d updated, %d unchanged, %d removed\n\n",
		c[ActionCreate], c[ActionUpdate], c[ActionNoop], c[ActionDelete])

	for _, a := range p.Actions {
		switch a.Type {
		case ActionCreate:
			fmt.Fprintf(&sb, "  + %s\n", a.Filename)
		case ActionUpdate:
			fmt.Fprintf(&sb, "  ~ %s\n", a.Filename)
		case ActionDelete:
			fmt.Fprintf(&sb, "  - %s\n", a.Filename)
		}
	}
	return sb.String()
}

// FormatJSON produces a JSON summary of a pass.
func FormatJSON(p *Plan) (string, error) {
	type jsonAction struct {
		Filename string `json:"filename"`
		Action   string `json:"action"`
		Reason   string `json:"reason,omitempty"`
	}
	type jsonPlan struct {
		HasChanges bool         `json:"has_changes"`
		Actions    []jsonAction `json:"actions"`
	}

	jp := jsonPlan{HasChanges: p.HasChanges, Actions: []jsonAction{}}
	for _, a := range p.Actions {
		jp.Actions = append(jp.Actions, jsonAction{
			Filename: a.Filename,
			Action:   string(a.Type),
			Reason:   a.Reason,
		})
	}

	data, err := json.MarshalIndent(jp, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
