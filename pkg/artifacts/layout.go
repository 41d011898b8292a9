package artifacts

import (
	"os"
	"path/filepath"
)

const (
	IntentDir      = "intent"
	RecognitionDir = "recognition"
	MaintenanceDir = "maintenance"

	IntentModelFile = "nlu_model.bin"

	RecognitionModelFile      = "model.bin"
	RecognitionCheckpointFile = "checkpoint.bin"
	RecognitionClassesFile    = "classes.json"
	RecognitionConfigFile     = "config.json"
	RecognitionFeaturesFile   = "reference_features.json"

	MaintenanceModelFile  = "model.bin"
	MaintenanceScalerFile = "scaler.bin"

	lockFile = ".train.lock"
)

// Root is the model directory shared by all components.
type Root string

// Component returns the sub-tree for a component, e.g. Root.Component(RecognitionDir).
func (r Root) Component(name string) string {
	return filepath.Join(string(r), name)
}

// Path joins a component sub-tree and a file name.
func (r Root) Path(component, file string) string {
	return filepath.Join(string(r), component, file)
}

// Ensure creates the component sub-tree.
func (r Root) Ensure(component string) error {
	return os.MkdirAll(r.Component(component), 0o755)
}

// Remove deletes the listed files of a component. Missing files are ignored.
func (r Root) Remove(component string, files ...string) error {
	for _, f := range files {
		if err := os.Remove(r.Path(component, f)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
