package receiver

import (
	"encoding/json"
)

// uiNode is the subset of a compiled UI descriptor the receiver reads.
type uiNode struct {
	Type    string   `json:"type"`
	Address string   `json:"address"`
	Path    string   `json:"path"`
	Items   []uiNode `json:"items"`
}

// ButtonPaths returns the addresses of every momentary button in a UI
// descriptor. Buttons are impulse controls: they are only pressed by
// triggers and are never restored in a pressed state.
func ButtonPaths(ui json.RawMessage) map[string]bool {
	paths := map[string]bool{}
	if len(ui) == 0 {
		return paths
	}
	var roots []uiNode
	if err := json.Unmarshal(ui, &roots); err != nil {
		var root uiNode
		if err := json.Unmarshal(ui, &root); err != nil {
			return paths
		}
		roots = []uiNode{root}
	}
	var walk func(nodes []uiNode)
	walk = func(nodes []uiNode) {
		for _, n := range nodes {
			walk(n.Items)
			if n.Type != "button" {
				continue
			}
			if addr := n.Address; addr != "" {
				paths[addr] = true
			} else if n.Path != "" {
				paths[n.Path] = true
			}
		}
	}
	walk(roots)
	return paths
}

// sanitize returns params with every impulse path forced to zero, and
// whether anything had to change.
func sanitize(params map[string]float64, buttons map[string]bool) (map[string]float64, bool) {
	out := make(map[string]float64, len(params))
	changed := false
	for path, v := range params {
		if buttons[path] && v != 0 {
			v = 0
			changed = true
		}
		out[path] = v
	}
	return out, changed
}
