// Package client is the HTTP client for a patchbay server. It is used by
// the CLI, the MCP tool server and headless engines.
//
// Errors returned by the server are decoded back into *apperr.Error so
// callers see the same kind and hint the server produced.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dyluth/patchbay/internal/api"
	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/artifact"
	"github.com/dyluth/patchbay/internal/control"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

// DefaultBaseURL is used when no server address is configured.
const DefaultBaseURL = "http://localhost:3000"

// Client talks to one patchbay server. It implements blackboard.Store.
type Client struct {
	base    string
	http    *http.Client
	msgpack bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMsgpack exchanges state documents as msgpack instead of JSON.
// Engines publishing spectrum frames use it to keep payloads small.
func WithMsgpack() Option {
	return func(c *Client) { c.msgpack = true }
}

// New creates a client for the server at base.
func New(base string, opts ...Option) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		base: strings.TrimRight(base, "/"),
		// Submissions wait for the compiler.
		http: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.base
}

var _ blackboard.Store = (*Client)(nil)

// Read implements blackboard.Store.
func (c *Client) Read(ctx context.Context) (*blackboard.Document, error) {
	var doc blackboard.Document
	if err := c.state(ctx, http.MethodGet, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Update implements blackboard.Store.
func (c *Client) Update(ctx context.Context, p *blackboard.Partial) (*blackboard.Document, error) {
	var doc blackboard.Document
	if err := c.state(ctx, http.MethodPost, p, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ClearSession sets the active session to none.
func (c *Client) ClearSession(ctx context.Context) (*blackboard.Document, error) {
	return c.Update(ctx, &blackboard.Partial{ClearSession: true})
}

// Submit stores and compiles a source.
func (c *Client) Submit(ctx context.Context, req control.SubmitRequest) (*control.SubmitResult, error) {
	var out control.SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/submit", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sessions lists sessions in creation order. limit > 0 keeps the most
// recent limit entries.
func (c *Client) Sessions(ctx context.Context, limit int) ([]artifact.Metadata, error) {
	path := "/api/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out api.SessionList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// File returns one file of a session, such as user_code.dsp.
func (c *Client) File(ctx context.Context, hash, name string) ([]byte, error) {
	return c.doRaw(ctx, "/api/"+url.PathEscape(hash)+"/"+url.PathEscape(name))
}

// Diagrams lists the SVG diagrams of a session.
func (c *Client) Diagrams(ctx context.Context, hash string) ([]string, error) {
	var out api.DiagramList
	if err := c.doJSON(ctx, http.MethodGet, "/api/"+url.PathEscape(hash)+"/svg", nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// Diagram returns one SVG diagram.
func (c *Client) Diagram(ctx context.Context, hash, name string) ([]byte, error) {
	return c.doRaw(ctx, "/api/"+url.PathEscape(hash)+"/svg/"+url.PathEscape(name))
}

// Neighbors returns the sessions created just before and after hash.
func (c *Client) Neighbors(ctx context.Context, hash string) (*api.Neighbors, error) {
	var out api.Neighbors
	if err := c.doJSON(ctx, http.MethodGet, "/api/"+url.PathEscape(hash)+"/neighbors", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a session.
func (c *Client) Delete(ctx context.Context, hash string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/"+url.PathEscape(hash), nil, nil)
}

// Version returns the compiler version reported by the server.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out map[string]string
	if err := c.doJSON(ctx, http.MethodGet, "/api/version", nil, &out); err != nil {
		return "", err
	}
	return out["version"], nil
}

// Health returns the server health report. An unhealthy server is not an
// error; the report says so.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.unreachable(err)
	}
	defer resp.Body.Close()
	var out api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Internal(err, "invalid health response")
	}
	return &out, nil
}

// UI returns the active session's UI descriptor.
func (c *Client) UI(ctx context.Context) (*api.UIResponse, error) {
	var out api.UIResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/run/ui", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Params returns the active session's parameter values.
func (c *Client) Params(ctx context.Context) (*api.ParamsResponse, error) {
	var out api.ParamsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/run/params", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetParam writes one parameter value.
func (c *Client) SetParam(ctx context.Context, path string, value float64) (*api.ParamResponse, error) {
	var out api.ParamResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/run/param", api.ParamRequest{Path: path, Value: value}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transport starts, stops or toggles audio.
func (c *Client) Transport(ctx context.Context, action blackboard.TransportAction) (*api.TransportResponse, error) {
	var out api.TransportResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/run/transport", api.TransportRequest{Action: action}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trigger presses and releases an impulse control. holdMs 0 selects the
// server default.
func (c *Client) Trigger(ctx context.Context, path string, holdMs int) (*api.TriggerResponse, error) {
	var out api.TriggerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/run/trigger", api.TriggerRequest{Path: path, HoldMs: holdMs}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Note sends a note event.
func (c *Client) Note(ctx context.Context, req control.NoteRequest) (*api.NoteResponse, error) {
	var out api.NoteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/run/midi", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Polyphony returns the engine voice count.
func (c *Client) Polyphony(ctx context.Context) (*api.PolyphonyBody, error) {
	var out api.PolyphonyBody
	if err := c.doJSON(ctx, http.MethodGet, "/api/run/polyphony", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPolyphony sets the engine voice count.
func (c *Client) SetPolyphony(ctx context.Context, voices int) (*api.PolyphonyBody, error) {
	var out api.PolyphonyBody
	if err := c.doJSON(ctx, http.MethodPost, "/api/run/polyphony", api.PolyphonyBody{Voices: voices}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// state exchanges the state document, as msgpack when configured.
func (c *Client) state(ctx context.Context, method string, in, out any) error {
	if !c.msgpack {
		return c.doJSON(ctx, method, "/api/state", in, out)
	}
	var body io.Reader
	if in != nil {
		data, err := msgpack.Marshal(in)
		if err != nil {
			return apperr.Internal(err, "failed to encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/state", body)
	if err != nil {
		return apperr.Internal(err, "failed to build request")
	}
	req.Header.Set("Accept", api.MsgpackType)
	if in != nil {
		req.Header.Set("Content-Type", api.MsgpackType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.unreachable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if err := msgpack.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Internal(err, "invalid state response")
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperr.Internal(err, "failed to encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return apperr.Internal(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.unreachable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Internal(err, "invalid response from %s", path)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, apperr.Internal(err, "failed to build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.unreachable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "failed to read response")
	}
	return data, nil
}

func (c *Client) unreachable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Wrap(err, apperr.KindUnavailable, "patchbay server not available at %s", c.base).
		WithHint("start it with `patchbay serve` or pass --server")
}

// decodeError rebuilds a typed error from an error response. Bodies that
// are not in the server's error shape fall back to the status code.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body api.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return &apperr.Error{Kind: apperr.FromStatus(resp.StatusCode), Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg)}
	}
	kind := apperr.Kind(body.Kind)
	if kind == "" {
		kind = apperr.FromStatus(resp.StatusCode)
	}
	return &apperr.Error{Kind: kind, Message: body.Error, Hint: body.Hint}
}
