package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys are namespaced by instance name so several workbenches can
// share one Redis server.
//
// Key pattern: patchbay:{instance_name}:{entity}

// StateKey returns the Redis key of the shared state document hash.
// Pattern: patchbay:{instance_name}:state
func StateKey(instanceName string) string {
	return fmt.Sprintf("patchbay:%s:state", instanceName)
}

// Hash field names of the state document.
const (
	fieldSession         = "session"
	fieldView            = "view"
	fieldAudioUnlocked   = "audio_unlocked"
	fieldVoices          = "voices"
	fieldUI              = "ui"
	fieldParams          = "params"
	fieldParamsUpdatedAt = "params_updated_at"
	fieldTransport       = "transport"
	fieldTrigger         = "trigger"
	fieldNote            = "note"
	fieldSpectrum        = "spectrum"
	fieldSummary         = "spectrum_summary"
	fieldUpdatedAt       = "updated_at"
)
