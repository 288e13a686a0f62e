package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between the Document and a Redis hash
//
// Scalars are stored as plain strings. Structured fields are JSON-encoded
// into single hash fields. An absent structure is stored as the empty
// string so one HSET always rewrites the whole document.

// DocumentToHash converts a Document to a Redis hash.
func DocumentToHash(d *Document) (map[string]interface{}, error) {
	hash := map[string]interface{}{
		fieldView:            string(d.View),
		fieldAudioUnlocked:   strconv.FormatBool(d.AudioUnlocked),
		fieldVoices:          d.Voices,
		fieldUI:              string(d.UI),
		fieldParamsUpdatedAt: d.ParamsUpdatedAt,
		fieldUpdatedAt:       d.UpdatedAt,
	}

	structured := map[string]interface{}{
		fieldSession:   d.Session,
		fieldParams:    d.Params,
		fieldTransport: d.Transport,
		fieldTrigger:   d.Trigger,
		fieldNote:      d.Note,
		fieldSpectrum:  d.Spectrum,
		fieldSummary:   d.Summary,
	}
	for field, v := range structured {
		encoded, err := encodeField(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", field, err)
		}
		hash[field] = encoded
	}

	return hash, nil
}

// encodeField JSON-encodes v, mapping nil pointers to "".
func encodeField(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "", nil
	}
	return string(data), nil
}

// HashToDocument converts a Redis hash back to a Document.
// An empty hash yields the never-written document.
func HashToDocument(hash map[string]string) (*Document, error) {
	d := NewDocument()
	if len(hash) == 0 {
		return d, nil
	}

	if v := hash[fieldView]; v != "" {
		d.View = View(v)
	}
	d.AudioUnlocked, _ = strconv.ParseBool(hash[fieldAudioUnlocked])
	d.Voices, _ = strconv.Atoi(hash[fieldVoices])
	if v := hash[fieldUI]; v != "" {
		d.UI = json.RawMessage(v)
	}
	d.ParamsUpdatedAt, _ = strconv.ParseInt(hash[fieldParamsUpdatedAt], 10, 64)

	updatedAt, err := strconv.ParseInt(hash[fieldUpdatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at field: %w", err)
	}
	d.UpdatedAt = updatedAt

	targets := map[string]interface{}{
		fieldSession:   &d.Session,
		fieldParams:    &d.Params,
		fieldTransport: &d.Transport,
		fieldTrigger:   &d.Trigger,
		fieldNote:      &d.Note,
		fieldSpectrum:  &d.Spectrum,
		fieldSummary:   &d.Summary,
	}
	for field, target := range targets {
		raw := hash[field]
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", field, err)
		}
	}

	// Ensure we have an empty map instead of nil for consistency
	if d.Params == nil {
		d.Params = map[string]float64{}
	}

	return d, nil
}
