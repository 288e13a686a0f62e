package docker

import (
	"fmt"

	"github.com/google/uuid"
)

// Label keys used for patchbay resources
const (
	LabelProject      = "patchbay.project"
	LabelInstanceName = "patchbay.instance.name"
	LabelRunID        = "patchbay.run_id"
	LabelComponent    = "patchbay.component"
	LabelSession      = "patchbay.session"
)

// ComponentCompiler labels short-lived compiler containers.
const ComponentCompiler = "compiler"

// BuildLabels creates the standard label set for patchbay containers.
// session may be empty for containers not tied to one entry.
func BuildLabels(instanceName, component, session string) map[string]string {
	labels := map[string]string{
		LabelProject:      "true",
		LabelInstanceName: instanceName,
		LabelRunID:        GenerateRunID(),
	}

	if component != "" {
		labels[LabelComponent] = component
	}
	if session != "" {
		labels[LabelSession] = session
	}

	return labels
}

// GenerateRunID creates a new UUID for one container run.
func GenerateRunID() string {
	return uuid.New().String()
}

// CompilerContainerName returns a unique name for a compiler run.
func CompilerContainerName(instanceName string) string {
	return fmt.Sprintf("patchbay-compile-%s-%s", instanceName, uuid.New().String()[:8])
}
