package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dyluth/patchbay/pkg/spectrum"
)

// Guide is the onboarding document returned by get_onboarding_guide.
type Guide struct {
	Version           int               `json:"version"`
	Goals             []string          `json:"goals"`
	Prerequisites     []string          `json:"prerequisites"`
	Workflow          []string          `json:"workflow"`
	ToolHints         map[string]string `json:"toolHints"`
	QualityThresholds map[string]int    `json:"qualityThresholds"`
	Policy            []string          `json:"policy"`
}

var onboarding = Guide{
	Version: 1,
	Goals: []string{
		"Design and iterate DSP programs",
		"Control run parameters safely",
		"Measure spectral impact and audio quality",
		"Control polyphony and MIDI notes when relevant",
	},
	Prerequisites: []string{
		`If audio tools fail with "audio is locked", ask the user to click "Enable Audio" once in the UI.`,
	},
	Workflow: []string{
		`1) set_view("run")`,
		"2) get_polyphony() then set_polyphony(...) if needed (0=mono)",
		"3) get_run_ui() and get_run_params()",
		"4) For continuous params: set_run_param_and_get_spectrum(...)",
		"5) For transient buttons: trigger_button_and_get_spectrum(...)",
		"6) For note events: midi_note_on/off/pulse(...)",
		"7) Compare aggregate.summary and iterate one parameter at a time",
	},
	ToolHints: map[string]string{
		"polyphony": "Use set_polyphony(0) for mono, else 1/2/4/8/16/32/64.",
		"midi":      "Prefer midi_note_pulse(note, velocity, holdMs) for deterministic one-shot tests.",
	},
	QualityThresholds: map[string]int{
		"clipRatioQ_warn":    spectrum.ClipRatioWarnQ,
		"clipRatioQ_severe":  spectrum.ClipRatioSevereQ,
		"clickScoreQ_warn":   spectrum.ClickScoreWarnQ,
		"clickScoreQ_severe": spectrum.ClickScoreSevereQ,
	},
	Policy: []string{
		"Do not optimize timbre while ignoring audioQuality.",
		"Flag severe clipping and click risk unless explicitly requested.",
	},
}

func (t *Tools) handleGuide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(onboarding)
}
