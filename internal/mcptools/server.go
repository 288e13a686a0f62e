// Package mcptools exposes the workbench to AI automation clients as an
// MCP tool server speaking stdio. Every tool is a thin call through the
// HTTP client, so the MCP process can run anywhere the server is
// reachable.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/capture"
	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/pkg/client"
)

// Version is reported to MCP clients.
var Version = "dev"

// Tools holds the dependencies shared by every tool handler.
type Tools struct {
	client  *client.Client
	capture capture.Options
	logger  *logging.Logger
	now     func() time.Time
}

// NewTools creates the tool set. opts supplies the capture window used
// when a tool call does not override it.
func NewTools(c *client.Client, opts capture.Options, logger *logging.Logger) *Tools {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tools{
		client:  c,
		capture: opts.WithDefaults(),
		logger:  logger.Named("mcp"),
		now:     time.Now,
	}
}

// New creates the MCP server with every tool registered.
func New(t *Tools) *server.MCPServer {
	s := server.NewMCPServer(
		"patchbay",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	t.register(s)
	return s
}

// Serve runs the MCP server on stdin/stdout until the client disconnects.
func Serve(t *Tools) error {
	return server.ServeStdio(New(t))
}

func (t *Tools) register(s *server.MCPServer) {
	// --- Guidance ---
	s.AddTool(mcp.NewTool("get_onboarding_guide",
		mcp.WithDescription("Return best-practice workflow and thresholds so an AI client can operate the workbench autonomously."),
	), t.handleGuide)

	// --- Sessions ---
	s.AddTool(mcp.NewTool("submit",
		mcp.WithDescription("Submit DSP code (equivalent to dropping a .dsp file). If persisted, it becomes the active shared session."),
		mcp.WithString("code", mcp.Required(), mcp.Description("DSP source code")),
		mcp.WithString("filename", mcp.Description("File name ending in .dsp; generated when omitted")),
		mcp.WithBoolean("persistOnSuccessOnly", mcp.Description("Keep the session only if compilation succeeds (default true)")),
	), t.handleSubmit)
	s.AddTool(mcp.NewTool("get_errors",
		mcp.WithDescription("Get errors.log for a given session."),
		mcp.WithString("sha1", mcp.Required(), mcp.Description("Session hash")),
	), t.handleErrors)
	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List sessions (creation order)."),
	), t.handleListSessions)
	s.AddTool(mcp.NewTool("set_session",
		mcp.WithDescription("Set current session by sha1."),
		mcp.WithString("sha1", mcp.Required(), mcp.Description("Session hash")),
	), t.handleSetSession)
	s.AddTool(mcp.NewTool("prev_session",
		mcp.WithDescription("Move to previous session (creation order)."),
	), t.handlePrevSession)
	s.AddTool(mcp.NewTool("next_session",
		mcp.WithDescription("Move to next session (creation order) or empty."),
	), t.handleNextSession)

	// --- Shared state ---
	s.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Get current session and view state."),
	), t.handleGetState)
	s.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get current session."),
	), t.handleGetSession)
	s.AddTool(mcp.NewTool("set_view",
		mcp.WithDescription("Set current view (dsp, cpp, svg, run)."),
		mcp.WithString("view", mcp.Required(), mcp.Enum("dsp", "cpp", "svg", "run")),
	), t.handleSetView)
	s.AddTool(mcp.NewTool("get_view_content",
		mcp.WithDescription("Get content corresponding to the current view. For view=run, returns the latest spectrum summary."),
	), t.handleViewContent)
	s.AddTool(mcp.NewTool("get_spectrum",
		mcp.WithDescription("Get latest spectrum summary (independent of current view).\n"+
			"May include audioQuality feedback: clipping and click risk.\n"+
			"Practical thresholds: clipRatioQ>1 warn, >5 severe; clickScoreQ>20 warn, >40 severe."),
	), t.handleSpectrum)
	s.AddTool(mcp.NewTool("get_audio_snapshot",
		mcp.WithDescription("Compatibility tool. Returns the latest available spectrum content (summary preferred)."),
		mcp.WithNumber("duration_ms", mcp.Description("Ignored; kept for compatibility")),
		mcp.WithString("format", mcp.Enum("wav", "pcm"), mcp.Description("Ignored; kept for compatibility")),
	), t.handleAudioSnapshot)

	// --- Run control ---
	s.AddTool(mcp.NewTool("get_run_ui",
		mcp.WithDescription("Get current run UI structure (compiled UI JSON). Use returned parameter paths with set_run_param."),
	), t.handleRunUI)
	s.AddTool(mcp.NewTool("get_run_params",
		mcp.WithDescription("Get current run parameter values by path."),
	), t.handleRunParams)
	s.AddTool(mcp.NewTool("set_run_param",
		mcp.WithDescription("Set one run parameter by path.\n\n"+
			"Sliders, nentries and checkboxes keep their value until changed again.\n"+
			"Buttons need a press and release: use trigger_button instead of setting 1 then 0."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Parameter address, e.g. /synth/freq")),
		mcp.WithNumber("value", mcp.Required()),
	), t.handleSetParam)
	s.AddTool(mcp.NewTool("trigger_button",
		mcp.WithDescription("Trigger a button parameter safely with a full press/release cycle.\n"+
			"Use this instead of manual set_run_param calls to avoid latched button states."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Button address")),
		mcp.WithNumber("holdMs", mcp.Min(1), mcp.Max(5000), mcp.Description("Hold duration (default 80)")),
	), t.handleTrigger)
	s.AddTool(mcp.NewTool("run_transport",
		mcp.WithDescription("Control run transport: start, stop, or toggle audio. Start/toggle require audio unlocked by one UI click (\"Enable Audio\")."),
		mcp.WithString("action", mcp.Required(), mcp.Enum("start", "stop", "toggle")),
	), t.handleTransport)
	s.AddTool(mcp.NewTool("get_polyphony",
		mcp.WithDescription("Get current polyphony voices for Run mode (0 = mono)."),
	), t.handleGetPolyphony)
	s.AddTool(mcp.NewTool("set_polyphony",
		mcp.WithDescription("Set Run polyphony voices. Convention: 0 = mono. Allowed: 0,1,2,4,8,16,32,64."),
		mcp.WithNumber("voices", mcp.Required(), mcp.Min(0), mcp.Max(64)),
	), t.handleSetPolyphony)
	s.AddTool(mcp.NewTool("midi_note_on",
		mcp.WithDescription("Send MIDI note-on to Run engine. Requires polyphonic DSP in most cases."),
		mcp.WithNumber("note", mcp.Required(), mcp.Min(0), mcp.Max(127)),
		mcp.WithNumber("velocity", mcp.Min(0), mcp.Max(1), mcp.Description("Default 0.8")),
	), t.handleNote("on"))
	s.AddTool(mcp.NewTool("midi_note_off",
		mcp.WithDescription("Send MIDI note-off to Run engine."),
		mcp.WithNumber("note", mcp.Required(), mcp.Min(0), mcp.Max(127)),
	), t.handleNote("off"))
	s.AddTool(mcp.NewTool("midi_note_pulse",
		mcp.WithDescription("Send MIDI note-on then note-off automatically after holdMs."),
		mcp.WithNumber("note", mcp.Required(), mcp.Min(0), mcp.Max(127)),
		mcp.WithNumber("velocity", mcp.Min(0), mcp.Max(1), mcp.Description("Default 0.8")),
		mcp.WithNumber("holdMs", mcp.Min(1), mcp.Max(5000), mcp.Description("Default 120")),
	), t.handleNote("pulse"))

	// --- Measurement ---
	s.AddTool(mcp.NewTool("set_run_param_and_get_spectrum",
		append([]mcp.ToolOption{
			mcp.WithDescription("Set one run parameter, wait briefly, then capture a compact spectrum-summary series.\n" +
				"Returns a max-hold aggregate summary over the capture window.\n" +
				"Recommended for objective A/B parameter impact measurement."),
			mcp.WithString("path", mcp.Required()),
			mcp.WithNumber("value", mcp.Required()),
			mcp.WithNumber("settleMs", mcp.Min(0), mcp.Max(5000), mcp.Description("Default 120")),
		}, windowOptions()...)...,
	), t.handleMeasureParam)
	s.AddTool(mcp.NewTool("trigger_button_and_get_spectrum",
		append([]mcp.ToolOption{
			mcp.WithDescription("Trigger a button and capture a time series of compact spectrum summaries.\n" +
				"Also returns a max-hold aggregate summary over the capture window.\n" +
				"Use for transient/percussive analysis."),
			mcp.WithString("path", mcp.Required()),
			mcp.WithNumber("holdMs", mcp.Min(1), mcp.Max(5000), mcp.Description("Default 80")),
		}, windowOptions()...)...,
	), t.handleMeasureTrigger)
}

func windowOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("captureMs", mcp.Min(50), mcp.Max(10000), mcp.Description("Default 300")),
		mcp.WithNumber("sampleEveryMs", mcp.Min(40), mcp.Max(500), mcp.Description("Default 80")),
		mcp.WithNumber("maxFrames", mcp.Min(1), mcp.Max(20), mcp.Description("Default 10")),
	}
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports a failed call to the model, with the hint when
// there is one. Tool failures are results, not protocol errors.
func errorResult(err error) (*mcp.CallToolResult, error) {
	msg := err.Error()
	if hint := apperr.HintOf(err); hint != "" {
		msg += "\nHint: " + hint
	}
	return mcp.NewToolResultError(msg), nil
}

// withDefaultTimeout bounds calls that the MCP client did not bound.
func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, 3*time.Minute)
}

const instructions = `You have access to patchbay, a live audio DSP workbench shared with a human operator.

Call get_onboarding_guide first. Submit code with submit, switch to the run view,
then change one parameter at a time and compare aggregate spectrum summaries.
If a tool reports that audio is locked, ask the user to click "Enable Audio" once in the UI.`
