package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dyluth/patchbay/internal/apperr"
)

// MsgpackType is the media type for binary state payloads.
const MsgpackType = "application/msgpack"

// maxBodyBytes bounds request bodies. Spectrum frames with time-domain
// samples are the largest payloads.
const maxBodyBytes = 8 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Hint  string `json:"hint,omitempty"`
}

func isMsgpack(header string) bool {
	mt, _, err := mime.ParseMediaType(header)
	return err == nil && (mt == MsgpackType || mt == "application/x-msgpack")
}

func wantsMsgpack(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if isMsgpack(strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}

// decodeBody reads a JSON or msgpack request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var err error
	if isMsgpack(r.Header.Get("Content-Type")) {
		err = msgpack.NewDecoder(body).Decode(v)
	} else {
		err = json.NewDecoder(body).Decode(v)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("request body is empty")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Invalid("request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Wrap(err, apperr.KindInvalidInput, "invalid request body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respond encodes payload as msgpack when the caller asks for it.
func respond(w http.ResponseWriter, r *http.Request, payload any) {
	if !wantsMsgpack(r) {
		respondJSON(w, http.StatusOK, payload)
		return
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		respondError(w, apperr.Internal(err, "failed to encode response"))
		return
	}
	w.Header().Set("Content-Type", MsgpackType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	respondJSON(w, apperr.HTTPStatus(kind), ErrorBody{
		Error: err.Error(),
		Kind:  string(kind),
		Hint:  apperr.HintOf(err),
	})
}

func respondText(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
