package recognition

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/forest"
	"github.com/labmanager/labml/pkg/imaging"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/nn"
	"github.com/labmanager/labml/pkg/testutils"
)

// persistModel writes an untrained two-class model trained with threshold.
func persistModel(t *testing.T, root artifacts.Root, cfg Config, threshold float64) nn.Backbone {
	t.Helper()
	backbone, err := nn.NewBackbone(cfg.BackboneWeights, cfg.ImageSize, cfg.Seed)
	require.NoError(t, err)
	m := &model{
		head:    nn.NewHead(backbone.OutputSize(), 2, cfg.Seed),
		classes: []ClassInfo{{Code: "EQ-001"}, {Code: "EQ-002"}},
		references: []imaging.Histogram{
			make(imaging.Histogram, imaging.HistogramSize),
			make(imaging.Histogram, imaging.HistogramSize),
		},
		config: ModelConfig{
			NumClasses:          2,
			ConfidenceThreshold: threshold,
			TrainedAt:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Epochs:              1,
			Format:              artifacts.FormatVersion,
			Backbone:            backbone.Name(),
			ImageSize:           cfg.ImageSize,
			RunID:               "run",
		},
	}
	require.NoError(t, saveModel(root, m, backbone))
	return backbone
}

func TestCorruptArtifactsLeaveServiceUp(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, root artifacts.Root)
	}{
		{
			name: "truncated config.json",
			corrupt: func(t *testing.T, root artifacts.Root) {
				path := root.Path(artifacts.RecognitionDir, artifacts.RecognitionConfigFile)
				require.NoError(t, os.WriteFile(path, []byte(`{"num_classes": 2, "confi`), 0o644))
			},
		},
		{
			name: "garbage classes.json",
			corrupt: func(t *testing.T, root artifacts.Root) {
				path := root.Path(artifacts.RecognitionDir, artifacts.RecognitionClassesFile)
				require.NoError(t, os.WriteFile(path, []byte(`[1, 2`), 0o644))
			},
		},
		{
			name: "truncated model.bin",
			corrupt: func(t *testing.T, root artifacts.Root) {
				path := root.Path(artifacts.RecognitionDir, artifacts.RecognitionModelFile)
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, data[:len(data)/3], 0o644))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := testutils.NewModelRoot(t)
			cfg := testConfig()
			persistModel(t, root, cfg, 0.85)
			tt.corrupt(t, root)

			r, err := New(cfg, root)
			require.NoError(t, err)
			assert.False(t, r.Ready())
			assert.Contains(t, r.Status().Reason, "decode")
			assert.ErrorIs(t, r.Load(), models.ErrUnavailable)

			path := testutils.WritePNG(t, t.TempDir(), "q.png", testutils.RedBoard(0).Image())
			_, err = r.Identify(context.Background(), FromPath(path), 3)
			assert.ErrorIs(t, err, models.ErrUnavailable)
		})
	}
}

func TestPersistedThresholdGovernsAcceptance(t *testing.T) {
	root := testutils.NewModelRoot(t)
	cfg := testConfig()
	require.Equal(t, 0.85, cfg.ConfidenceThreshold)
	persistModel(t, root, cfg, 0.5)

	r, err := New(cfg, root)
	require.NoError(t, err)
	require.True(t, r.Ready())
	assert.Equal(t, 0.5, r.Status().ConfidenceThreshold)

	m := r.model.Load()
	candidates := rank(m, []float64{0.6, 0.4}, 1, m.threshold(cfg.ConfidenceThreshold), 2)
	require.Len(t, candidates, 2)
	assert.True(t, candidates[0].Accepted)
	assert.False(t, candidates[1].Accepted)

	path := testutils.WritePNG(t, t.TempDir(), "q.png", testutils.BlueBoard(1).Image())
	ident, err := r.Identify(context.Background(), FromPath(path), 2)
	require.NoError(t, err)
	for _, c := range ident.Candidates {
		assert.Equal(t, c.Confidence >= 0.5, c.Accepted, "confidence %.3f", c.Confidence)
	}

	legacy := &model{config: ModelConfig{}}
	assert.Equal(t, 0.85, legacy.threshold(cfg.ConfidenceThreshold))
}

func TestFeatureScaler(t *testing.T) {
	// the last row is validation and must not shift the fit
	x := mat.NewDense(3, 3, []float64{
		1, 4, 2,
		3, 4, 2.0001,
		100, 9, 7,
	})
	s, err := fitFeatureScaler(x, 2, 4)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 4, 2.00005}, s.Standard.Mean, 1e-12)
	// a constant column keeps scale 1, a near-constant one is floored
	assert.InDeltaSlice(t, []float64{1, 1, minFeatureScale}, s.Standard.Scale, 1e-12)

	s.Apply(x)
	assert.InDeltaSlice(t, []float64{-4, 0, -0.2}, x.RawRowView(0), 1e-9)
	assert.InDeltaSlice(t, []float64{4, 0, 0.2}, x.RawRowView(1), 1e-9)
	assert.InDeltaSlice(t, []float64{392, 20, 19999.8}, x.RawRowView(2), 1e-6)

	raw := []float64{3, 4, 2.00005}
	assert.InDeltaSlice(t, []float64{4, 0, 0}, s.Transform(raw), 1e-9)
	assert.Equal(t, []float64{3, 4, 2.00005}, raw)
	assert.Equal(t, raw, featureScaler{}.Transform(raw))
}

func TestFeatureScalerPersisted(t *testing.T) {
	root := testutils.NewModelRoot(t)
	cfg := testConfig()
	backbone := persistModel(t, root, cfg, 0.85)

	r, err := New(cfg, root)
	require.NoError(t, err)
	require.True(t, r.Ready())
	assert.Equal(t, 0, r.model.Load().scaler.Standard.Features())

	n := backbone.OutputSize()
	scaled := &model{
		head:       nn.NewHead(n, 2, cfg.Seed),
		classes:    []ClassInfo{{Code: "EQ-001"}, {Code: "EQ-002"}},
		references: r.model.Load().references,
		config:     r.model.Load().config,
		scaler: featureScaler{
			Standard: forest.StandardScaler{Mean: make([]float64, n), Scale: make([]float64, n)},
			Gain:     cfg.FeatureGain,
		},
	}
	for i := range scaled.scaler.Standard.Scale {
		scaled.scaler.Standard.Mean[i] = float64(i)
		scaled.scaler.Standard.Scale[i] = 2
	}
	require.NoError(t, saveModel(root, scaled, backbone))
	require.NoError(t, r.Load())
	loaded := r.model.Load().scaler
	assert.Equal(t, scaled.scaler, loaded)
	assert.Equal(t, 4.0, loaded.Gain)

	scaled.scaler.Standard.Mean = scaled.scaler.Standard.Mean[:n-1]
	scaled.scaler.Standard.Scale = scaled.scaler.Standard.Scale[:n-1]
	require.NoError(t, saveModel(root, scaled, backbone))
	err = r.Load()
	assert.ErrorIs(t, err, models.ErrUnavailable)
	assert.Contains(t, err.Error(), "feature scaler")
}
