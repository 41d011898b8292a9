package recognition

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/forest"
	"github.com/labmanager/labml/pkg/imaging"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/nn"
)

// ClassInfo identifies the equipment behind one output unit of the network.
type ClassInfo struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ModelConfig is persisted as config.json alongside the weights.
type ModelConfig struct {
	NumClasses          int       `json:"num_classes"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	TrainedAt           time.Time `json:"trained_at"`
	Epochs              int       `json:"epochs"`
	TotalImages         int       `json:"total_images"`
	Format              string    `json:"format"`
	Backbone            string    `json:"backbone"`
	ImageSize           int       `json:"image_size"`
	RunID               string    `json:"run_id"`
}

// ReferenceFeatures is persisted as reference_features.json.
type ReferenceFeatures struct {
	Histograms   [][]float64 `json:"histograms"`
	At           time.Time   `json:"at"`
	NumEquipment int         `json:"num_equipment"`
}

// weightsFile is the gob payload of model.bin and checkpoint.bin.
type weightsFile struct {
	Format      string
	Backbone    string
	FeatureSize int
	Scaler      featureScaler
	Head        nn.HeadWeights
}

// featureScaler standardizes backbone features on the training rows and multiplies
// them by Gain before they reach the head. A zero value passes features through.
type featureScaler struct {
	Standard forest.StandardScaler
	Gain     float64
}

// minFeatureScale keeps near-dead activations from being blown up to unit variance.
const minFeatureScale = 1e-3

func fitFeatureScaler(x *mat.Dense, rows int, gain float64) (featureScaler, error) {
	_, cols := x.Dims()
	train := make([][]float64, rows)
	for i := range train {
		train[i] = x.RawRowView(i)[:cols]
	}
	s := featureScaler{Standard: forest.StandardScaler{MinScale: minFeatureScale}, Gain: gain}
	if err := s.Standard.Fit(train); err != nil {
		return featureScaler{}, err
	}
	return s, nil
}

// Apply rescales every row of x in place.
func (s featureScaler) Apply(x *mat.Dense) {
	rows, _ := x.Dims()
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		copy(row, s.Transform(row))
	}
}

func (s featureScaler) Transform(features []float64) []float64 {
	if s.Standard.Features() == 0 {
		return features
	}
	out := s.Standard.TransformRow(features)
	floats.Scale(s.Gain, out)
	return out
}

// model is an immutable trained recognizer. Inference reads it without locking.
type model struct {
	head       *nn.Head
	scaler     featureScaler
	classes    []ClassInfo
	references []imaging.Histogram
	config     ModelConfig
}

func (m *model) numClasses() int {
	return len(m.classes)
}

// threshold is the acceptance threshold the model was trained with.
func (m *model) threshold(fallback float64) float64 {
	if m.config.ConfidenceThreshold > 0 {
		return m.config.ConfidenceThreshold
	}
	return fallback
}

// classesJSON renders the ordered class list as {"0": {...}, "1": {...}}.
func classesJSON(classes []ClassInfo) map[string]ClassInfo {
	out := make(map[string]ClassInfo, len(classes))
	for i, c := range classes {
		out[strconv.Itoa(i)] = c
	}
	return out
}

func classesFromJSON(m map[string]ClassInfo) ([]ClassInfo, error) {
	classes := make([]ClassInfo, len(m))
	for k, c := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) {
			return nil, fmt.Errorf("invalid class index %q", k)
		}
		classes[i] = c
	}
	return classes, nil
}

func saveModel(root artifacts.Root, m *model, backbone nn.Backbone) error {
	if err := root.Ensure(artifacts.RecognitionDir); err != nil {
		return models.NewPersistenceError(root.Component(artifacts.RecognitionDir), err)
	}
	path := func(f string) string { return root.Path(artifacts.RecognitionDir, f) }

	hist := make([][]float64, len(m.references))
	for i, h := range m.references {
		hist[i] = h
	}
	// weights first; the sidecars are what make the model visible to a reload
	if err := artifacts.WriteGobAtomic(path(artifacts.RecognitionModelFile), weightsFile{
		Format:      artifacts.FormatVersion,
		Backbone:    backbone.Name(),
		FeatureSize: backbone.OutputSize(),
		Scaler:      m.scaler,
		Head:        m.head.Weights(),
	}); err != nil {
		return err
	}
	if err := artifacts.WriteJSONAtomic(path(artifacts.RecognitionClassesFile), classesJSON(m.classes)); err != nil {
		return err
	}
	if err := artifacts.WriteJSONAtomic(path(artifacts.RecognitionFeaturesFile), ReferenceFeatures{
		Histograms:   hist,
		At:           m.config.TrainedAt,
		NumEquipment: len(m.classes),
	}); err != nil {
		return err
	}
	return artifacts.WriteJSONAtomic(path(artifacts.RecognitionConfigFile), m.config)
}

// loadModel reads and cross-checks the recognizer artifacts. Any missing, unreadable or
// corrupt file and any disagreement in class count yields an UnavailableError.
func loadModel(root artifacts.Root, backbone nn.Backbone) (*model, error) {
	m, err := readModel(root, backbone)
	if err != nil && !errors.Is(err, models.ErrUnavailable) {
		return nil, models.NewUnavailableError("recognition", err.Error())
	}
	return m, err
}

func readModel(root artifacts.Root, backbone nn.Backbone) (*model, error) {
	path := func(f string) string { return root.Path(artifacts.RecognitionDir, f) }
	unavailable := func(reason string) error {
		return models.NewUnavailableError("recognition", reason)
	}

	var cfg ModelConfig
	if err := artifacts.ReadJSON(path(artifacts.RecognitionConfigFile), &cfg); err != nil {
		return nil, err
	}
	if err := artifacts.CheckFormat(cfg.Format); err != nil {
		return nil, unavailable(err.Error())
	}

	var rawClasses map[string]ClassInfo
	if err := artifacts.ReadJSON(path(artifacts.RecognitionClassesFile), &rawClasses); err != nil {
		return nil, err
	}
	classes, err := classesFromJSON(rawClasses)
	if err != nil {
		return nil, unavailable(err.Error())
	}

	var refs ReferenceFeatures
	if err := artifacts.ReadJSON(path(artifacts.RecognitionFeaturesFile), &refs); err != nil {
		return nil, err
	}

	var wf weightsFile
	if err := artifacts.ReadGob(path(artifacts.RecognitionModelFile), &wf); err != nil {
		return nil, err
	}
	if wf.Backbone != backbone.Name() || wf.FeatureSize != backbone.OutputSize() {
		return nil, unavailable(fmt.Sprintf("model was trained on backbone %s/%d, have %s/%d",
			wf.Backbone, wf.FeatureSize, backbone.Name(), backbone.OutputSize()))
	}
	if n := wf.Scaler.Standard.Features(); n != 0 && (n != wf.FeatureSize || len(wf.Scaler.Standard.Scale) != n) {
		return nil, unavailable(fmt.Sprintf("feature scaler covers %d features, backbone has %d", n, wf.FeatureSize))
	}
	head, err := nn.HeadFromWeights(wf.Head)
	if err != nil {
		return nil, unavailable(err.Error())
	}

	if cfg.NumClasses != len(classes) || head.Classes() != len(classes) || refs.NumEquipment != len(classes) {
		return nil, unavailable(fmt.Sprintf(
			"inconsistent artifacts: config=%d classes=%d model=%d references=%d",
			cfg.NumClasses, len(classes), head.Classes(), refs.NumEquipment))
	}
	if head.Inputs() != backbone.OutputSize() {
		return nil, unavailable("model input size does not match backbone")
	}

	references := make([]imaging.Histogram, 0, len(refs.Histograms))
	for _, h := range refs.Histograms {
		if len(h) == imaging.HistogramSize {
			references = append(references, h)
		}
	}

	return &model{head: head, scaler: wf.Scaler, classes: classes, references: references, config: cfg}, nil
}
