package mcptools

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/capture"
	"github.com/dyluth/patchbay/internal/control"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

// AutoFilename names a submission that arrived without one.
func AutoFilename(now time.Time) string {
	return "ai-" + now.Format("20060102150405") + artifact.SourceExt
}

type sessionView struct {
	Hash     *string `json:"sha1"`
	Filename *string `json:"filename"`
}

func sessionOf(doc *blackboard.Document) sessionView {
	if doc.Session == nil {
		return sessionView{}
	}
	return sessionView{Hash: &doc.Session.Hash, Filename: &doc.Session.Filename}
}

func (t *Tools) handleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil || strings.TrimSpace(code) == "" {
		return errorResult(apperr.Invalid("missing or invalid code"))
	}
	filename := req.GetString("filename", "")
	if !strings.HasSuffix(filename, artifact.SourceExt) {
		filename = AutoFilename(t.now())
	}
	persistOnSuccess := req.GetBool("persistOnSuccessOnly", true)

	res, err := t.client.Submit(ctx, control.SubmitRequest{
		Source:               code,
		Filename:             filename,
		PersistOnSuccessOnly: persistOnSuccess,
	})
	if err != nil {
		return errorResult(err)
	}

	// A persisted submission becomes the shared active session.
	if res.Persisted {
		if _, err := t.client.Update(ctx, &blackboard.Partial{Session: &blackboard.SessionRef{Hash: res.Hash}}); err != nil {
			return errorResult(err)
		}
	}
	return jsonResult(map[string]any{
		"sha1":                 res.Hash,
		"errors":               res.Diagnostics,
		"persisted":            res.Persisted,
		"persistOnSuccessOnly": persistOnSuccess,
		"filename":             filename,
	})
}

func (t *Tools) handleErrors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := req.RequireString("sha1")
	if err != nil {
		return errorResult(apperr.Invalid("sha1 is required"))
	}
	data, err := t.client.File(ctx, hash, artifact.DiagnosticsFile)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"sha1": hash, "errors": string(data)})
}

func (t *Tools) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := t.client.Sessions(ctx, 100)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"sessions": sessions})
}

func (t *Tools) handleSetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := req.RequireString("sha1")
	if err != nil {
		return errorResult(apperr.Invalid("sha1 is required"))
	}
	return t.selectSession(ctx, hash)
}

// selectSession makes hash active, or clears the session when hash is "".
func (t *Tools) selectSession(ctx context.Context, hash string) (*mcp.CallToolResult, error) {
	p := &blackboard.Partial{ClearSession: true}
	if hash != "" {
		p = &blackboard.Partial{Session: &blackboard.SessionRef{Hash: hash}}
	}
	doc, err := t.client.Update(ctx, p)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(sessionOf(doc))
}

// step moves through the creation order. Before the first session prev
// stays put; after the last one next selects none.
func (t *Tools) step(ctx context.Context, forward bool) (*mcp.CallToolResult, error) {
	sessions, err := t.client.Sessions(ctx, 100)
	if err != nil {
		return errorResult(err)
	}
	doc, err := t.client.Read(ctx)
	if err != nil {
		return errorResult(err)
	}
	if len(sessions) == 0 {
		return t.selectSession(ctx, "")
	}
	active := doc.ActiveHash()
	if active == "" {
		if forward {
			return t.selectSession(ctx, sessions[0].Hash)
		}
		return t.selectSession(ctx, sessions[len(sessions)-1].Hash)
	}

	idx := -1
	for i, s := range sessions {
		if s.Hash == active {
			idx = i
			break
		}
	}
	switch {
	case forward && idx >= 0 && idx < len(sessions)-1:
		return t.selectSession(ctx, sessions[idx+1].Hash)
	case forward:
		return t.selectSession(ctx, "")
	case idx > 0:
		return t.selectSession(ctx, sessions[idx-1].Hash)
	default:
		return jsonResult(sessionOf(doc))
	}
}

func (t *Tools) handlePrevSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.step(ctx, false)
}

func (t *Tools) handleNextSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.step(ctx, true)
}

func (t *Tools) handleGetState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.client.Read(ctx)
	if err != nil {
		return errorResult(err)
	}
	s := sessionOf(doc)
	return jsonResult(map[string]any{"sha1": s.Hash, "filename": s.Filename, "view": doc.View})
}

func (t *Tools) handleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.client.Read(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(sessionOf(doc))
}

func (t *Tools) handleSetView(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view, err := req.RequireString("view")
	if err != nil {
		return errorResult(apperr.Invalid("view is required"))
	}
	doc, err := t.client.Update(ctx, &blackboard.Partial{View: blackboard.View(view)})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"view": doc.View})
}

// latestSpectrum prefers the reduced summary over the raw frame.
func latestSpectrum(doc *blackboard.Document) any {
	if doc.Summary != nil {
		return doc.Summary
	}
	if doc.Spectrum != nil {
		return doc.Spectrum
	}
	return nil
}

func (t *Tools) handleViewContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.client.Read(ctx)
	if err != nil {
		return errorResult(err)
	}
	hash := doc.ActiveHash()
	if hash == "" {
		return errorResult(apperr.Invalid("no active session").WithHint("submit code or select a session first"))
	}

	text := func(view, mime, name string) (*mcp.CallToolResult, error) {
		data, err := t.client.File(ctx, hash, name)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(map[string]any{"view": view, "mime": mime, "content": string(data)})
	}

	switch doc.View {
	case blackboard.ViewDSP:
		return text("dsp", "text/plain", artifact.SourceFile)
	case blackboard.ViewCPP:
		return text("cpp", "text/plain", artifact.CompiledFile)
	case blackboard.ViewSVG:
		files, err := t.client.Diagrams(ctx, hash)
		if err != nil {
			return errorResult(err)
		}
		if len(files) == 0 {
			return errorResult(apperr.NotFound("SVG not found"))
		}
		name := files[0]
		for _, f := range files {
			if f == "process.svg" {
				name = f
			}
		}
		data, err := t.client.Diagram(ctx, hash, name)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(map[string]any{"view": "svg", "mime": "image/svg+xml", "content": string(data)})
	case blackboard.ViewRun:
		content := latestSpectrum(doc)
		if content == nil {
			return errorResult(apperr.Unavailable("run spectrum not available").
				WithHint("ensure the Run view is active and audio is running"))
		}
		return jsonResult(map[string]any{"view": "run", "mime": "application/json", "content": content})
	default:
		return errorResult(apperr.Invalid("unsupported view %q", doc.View))
	}
}

func (t *Tools) handleSpectrum(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.client.Read(ctx)
	if err != nil {
		return errorResult(err)
	}
	content := latestSpectrum(doc)
	if content == nil {
		return errorResult(apperr.Unavailable("spectrum not available").
			WithHint("ensure the Run view is active and audio is running"))
	}
	out := map[string]any{"mime": "application/json", "content": content}
	if doc.Summary != nil && doc.Summary.AudioQuality != nil {
		out["quality"] = doc.Summary.AudioQuality.Severity()
	}
	return jsonResult(out)
}

func (t *Tools) handleAudioSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.ensureAudio(ctx)
	if err != nil {
		return errorResult(err)
	}
	content := latestSpectrum(doc)
	if content == nil {
		return errorResult(apperr.Unavailable("audio snapshot not available").
			WithHint("ensure the Run view is active and audio is running"))
	}
	requested := map[string]any{}
	if args := req.GetArguments(); args != nil {
		if _, ok := args["duration_ms"]; ok {
			requested["duration_ms"] = req.GetInt("duration_ms", 0)
		}
		if _, ok := args["format"]; ok {
			requested["format"] = req.GetString("format", "")
		}
	}
	return jsonResult(map[string]any{
		"compatibility": true,
		"tool":          "get_audio_snapshot",
		"note":          "Raw audio export is not implemented; returning latest spectrum content instead.",
		"requested":     requested,
		"mime":          "application/json",
		"content":       content,
	})
}

func (t *Tools) handleRunUI(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.client.UI(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(res)
}

func (t *Tools) handleRunParams(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.client.Params(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(res)
}

func (t *Tools) handleSetParam(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return errorResult(apperr.Invalid("path is required"))
	}
	value, err := req.RequireFloat("value")
	if err != nil {
		return errorResult(apperr.Invalid("value is required"))
	}
	res, err := t.client.SetParam(ctx, path, value)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(res)
}

// prepareRun puts the shared view on run and, when audio is needed,
// checks it is unlocked and starts the transport. View and transport
// failures are ignored: the command that follows reports the real error.
func (t *Tools) prepareRun(ctx context.Context, start bool) error {
	if _, err := t.client.Update(ctx, &blackboard.Partial{View: blackboard.ViewRun}); err != nil {
		t.logger.Debug("failed to switch to run view", map[string]any{"error": err})
	}
	if !start {
		return nil
	}
	if _, err := t.ensureAudio(ctx); err != nil {
		return err
	}
	if _, err := t.client.Transport(ctx, blackboard.TransportStart); err != nil {
		t.logger.Debug("failed to start transport", map[string]any{"error": err})
	}
	return nil
}

func (t *Tools) ensureAudio(ctx context.Context) (*blackboard.Document, error) {
	doc, err := t.client.Read(ctx)
	if err != nil {
		return nil, err
	}
	if !doc.AudioUnlocked {
		return nil, apperr.Unavailable("audio is locked").WithHint("open the UI and click Enable Audio")
	}
	return doc, nil
}

func (t *Tools) handleTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return errorResult(apperr.Invalid("path is required"))
	}
	hold := req.GetInt("holdMs", blackboard.DefaultTriggerHold)
	if err := t.prepareRun(ctx, true); err != nil {
		return errorResult(err)
	}
	res, err := t.client.Trigger(ctx, path, hold)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"path": path, "holdMs": res.Trigger.HoldMs, "triggered": true})
}

func (t *Tools) handleTransport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return errorResult(apperr.Invalid("action is required"))
	}
	_ = t.prepareRun(ctx, false)
	res, err := t.client.Transport(ctx, blackboard.TransportAction(action))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(res)
}

func (t *Tools) handleGetPolyphony(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.client.Polyphony(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(res)
}

func (t *Tools) handleSetPolyphony(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	voices, err := req.RequireInt("voices")
	if err != nil {
		return errorResult(apperr.Invalid("voices is required"))
	}
	_ = t.prepareRun(ctx, false)
	res, err := t.client.SetPolyphony(ctx, voices)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(res)
}

func (t *Tools) handleNote(action blackboard.NoteAction) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		note, err := req.RequireInt("note")
		if err != nil {
			return errorResult(apperr.Invalid("note is required"))
		}
		nr := control.NoteRequest{Action: action, Note: note}
		if action != blackboard.NoteOff {
			nr.Velocity = req.GetFloat("velocity", blackboard.DefaultVelocity)
		}
		if action == blackboard.NotePulse {
			nr.HoldMs = req.GetInt("holdMs", blackboard.DefaultPulseHold)
		}
		if err := t.prepareRun(ctx, action != blackboard.NoteOff); err != nil {
			return errorResult(err)
		}
		res, err := t.client.Note(ctx, nr)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(map[string]any{"sha1": res.Hash, "midi": res.Note, "sent": nr})
	}
}

// measurement is the result of a measure tool: the action followed by the
// capture fields.
type measurement struct {
	Path   string   `json:"path"`
	Value  *float64 `json:"value,omitempty"`
	HoldMs int      `json:"holdMs,omitempty"`
	*capture.Result
}

// captureOptions overlays the per-call window arguments on the defaults.
func (t *Tools) captureOptions(req mcp.CallToolRequest) capture.Options {
	opts := t.capture
	ms := func(key string, d time.Duration) time.Duration {
		return time.Duration(req.GetInt(key, int(d.Milliseconds()))) * time.Millisecond
	}
	opts.Settle = ms("settleMs", opts.Settle)
	opts.Window = ms("captureMs", opts.Window)
	opts.Every = ms("sampleEveryMs", opts.Every)
	opts.MaxFrames = req.GetInt("maxFrames", opts.MaxFrames)
	return opts
}

func (t *Tools) handleMeasureParam(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return errorResult(apperr.Invalid("path is required"))
	}
	value, err := req.RequireFloat("value")
	if err != nil {
		return errorResult(apperr.Invalid("value is required"))
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	if err := t.prepareRun(ctx, true); err != nil {
		return errorResult(err)
	}

	res, err := capture.AfterAction(ctx, t.client, t.captureOptions(req), func(ctx context.Context) error {
		_, err := t.client.SetParam(ctx, path, value)
		return err
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(measurement{Path: path, Value: &value, Result: res})
}

func (t *Tools) handleMeasureTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return errorResult(apperr.Invalid("path is required"))
	}
	hold := req.GetInt("holdMs", blackboard.DefaultTriggerHold)
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	if err := t.prepareRun(ctx, true); err != nil {
		return errorResult(err)
	}

	res, err := capture.AroundAction(ctx, t.client, t.captureOptions(req), func(ctx context.Context) error {
		_, err := t.client.Trigger(ctx, path, hold)
		return err
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(measurement{Path: path, HoldMs: hold, Result: res})
}
