package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"sync"
	"testing"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/testutils"
)

// fakeImageStore records status updates.
type fakeImageStore struct {
	mu       sync.Mutex
	dataset  []models.EquipmentImages
	statuses map[int64]models.TrainingImageStatus
}

func (f *fakeImageStore) RecognitionDataset(context.Context) ([]models.EquipmentImages, error) {
	return f.dataset, nil
}

func (f *fakeImageStore) MarkTrainingImages(_ context.Context, ids []int64, status models.TrainingImageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[int64]models.TrainingImageStatus{}
	}
	for _, id := range ids {
		f.statuses[id] = status
	}
	return nil
}

// testConfig is the shipped recognition configuration, untouched.
func testConfig() Config {
	return NewConfig(config.Default().Recognition)
}

// writeDataset writes perClass photos for the red and blue equipment.
func writeDataset(t *testing.T, perClass int) []models.EquipmentImages {
	t.Helper()
	dir := t.TempDir()
	var id int64
	build := func(code, name string, board func(int) testutils.Checkerboard) models.EquipmentImages {
		eq := models.EquipmentImages{EquipmentID: id + 1, Code: code, Name: name, Category: "optica"}
		for i := 0; i < perClass; i++ {
			id++
			path := testutils.WritePNG(t, dir, fmt.Sprintf("%s-%d.png", code, i), board(i).Image())
			eq.Images = append(eq.Images, models.TrainingImage{ID: id, Path: path})
		}
		return eq
	}
	return []models.EquipmentImages{
		build("EQ-001", "Microscopio", testutils.RedBoard),
		build("EQ-002", "Centrifuga", testutils.BlueBoard),
	}
}

func artifactPaths(root artifacts.Root) []string {
	var out []string
	for _, f := range []string{
		artifacts.RecognitionModelFile,
		artifacts.RecognitionClassesFile,
		artifacts.RecognitionConfigFile,
		artifacts.RecognitionFeaturesFile,
	} {
		out = append(out, root.Path(artifacts.RecognitionDir, f))
	}
	return out
}

func TestNewWithoutModel(t *testing.T) {
	root := testutils.NewModelRoot(t)
	r, err := New(testConfig(), root)
	require.NoError(t, err)

	status := r.Status()
	assert.False(t, status.ModelLoaded)
	assert.Equal(t, 0, status.NumClasses)
	assert.Equal(t, 0.85, status.ConfidenceThreshold)

	path := testutils.WritePNG(t, t.TempDir(), "q.png", testutils.RedBoard(0).Image())
	ident, err := r.Identify(context.Background(), FromPath(path), 3)
	assert.ErrorIs(t, err, models.ErrUnavailable)
	assert.Empty(t, ident.Candidates)
	assert.Equal(t, 0.0, ident.ElapsedMs)
}

func TestTrainingGate(t *testing.T) {
	root := testutils.NewModelRoot(t)
	store := &fakeImageStore{}
	r, err := New(testConfig(), root, WithTrainingImageStore(store))
	require.NoError(t, err)

	// two valid photos per class plus one flat photo that fails the quality gate
	dataset := writeDataset(t, 2)
	flat := testutils.WritePNG(t, t.TempDir(), "flat.png", testutils.UniformImage(300, color.RGBA{R: 128, G: 128, B: 128, A: 255}))
	dataset[0].Images = append(dataset[0].Images, models.TrainingImage{ID: 99, Path: flat})

	_, err = r.Train(context.Background(), dataset, TrainOptions{Epochs: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	var ide *models.InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 4, ide.Have)
	assert.Equal(t, 5, ide.Need)

	for _, p := range artifactPaths(root) {
		assert.NoFileExists(t, p)
	}
	assert.False(t, r.Status().ModelLoaded)
	assert.Equal(t, models.TrainingImageError, store.statuses[1])
	assert.Equal(t, models.TrainingImageError, store.statuses[99])
}

func TestTrainAndIdentify(t *testing.T) {
	root := testutils.NewModelRoot(t)
	store := &fakeImageStore{}
	registry := gometrics.NewRegistry()
	r, err := New(testConfig(), root, WithTrainingImageStore(store), WithMetricsRegistry(registry))
	require.NoError(t, err)

	dataset := writeDataset(t, 5)
	metrics, err := r.Train(context.Background(), dataset, TrainOptions{Epochs: 2}.WithValidationSplit(0.2))
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.NumClasses)
	assert.Equal(t, 10, metrics.ValidImages)
	assert.Equal(t, 50, metrics.TotalImages)
	assert.LessOrEqual(t, metrics.EpochsRun, 2)
	assert.NotEmpty(t, metrics.RunID)
	assert.Equal(t, metrics.ValAccuracy >= ValAccuracyObjective, metrics.ObjectiveMet)
	for _, p := range artifactPaths(root) {
		assert.FileExists(t, p)
	}
	assert.FileExists(t, root.Path(artifacts.RecognitionDir, artifacts.RecognitionCheckpointFile))
	for id := int64(1); id <= 10; id++ {
		assert.Equal(t, models.TrainingImageEntrained, store.statuses[id])
	}

	ctx := context.Background()
	t.Run("identifies a training image", func(t *testing.T) {
		ident, err := r.Identify(ctx, FromPath(dataset[0].Images[0].Path), 3)
		require.NoError(t, err)
		require.Len(t, ident.Candidates, 2)
		top := ident.Candidates[0]
		assert.Equal(t, "EQ-001", top.Code)
		assert.Equal(t, "Microscopio", top.Name)
		assert.True(t, top.Accepted, "confidence %.3f", top.Confidence)
		assert.GreaterOrEqual(t, top.Confidence, ident.Candidates[1].Confidence)
	})

	t.Run("every original photo clears the threshold", func(t *testing.T) {
		for _, eq := range dataset {
			for _, img := range eq.Images {
				ident, err := r.Identify(ctx, FromPath(img.Path), 1)
				require.NoError(t, err)
				require.Len(t, ident.Candidates, 1)
				top := ident.Candidates[0]
				assert.Equal(t, eq.Code, top.Code, img.Path)
				assert.GreaterOrEqual(t, top.Confidence, 0.85, img.Path)
			}
		}
	})

	t.Run("top_n bounds the result", func(t *testing.T) {
		data, err := os.ReadFile(dataset[1].Images[0].Path)
		require.NoError(t, err)
		ident, err := r.Identify(ctx, FromBytes(data), 1)
		require.NoError(t, err)
		require.Len(t, ident.Candidates, 1)
		assert.Equal(t, "EQ-002", ident.Candidates[0].Code)
	})

	t.Run("penalty bounds hold for unfamiliar images", func(t *testing.T) {
		green := testutils.Checkerboard{
			Size: 224, Block: 8,
			Bright: color.RGBA{R: 40, G: 230, B: 40, A: 255},
			Dark:   color.RGBA{G: 70, A: 255},
		}
		path := testutils.WritePNG(t, t.TempDir(), "green.png", green.Image())
		ident, err := r.Identify(ctx, FromPath(path), 5)
		require.NoError(t, err)
		require.Len(t, ident.Candidates, 2)
		for _, c := range ident.Candidates {
			assert.LessOrEqual(t, c.Confidence, c.RawConfidence)
			assert.GreaterOrEqual(t, c.Confidence, c.RawConfidence*0.1-1e-12)
			assert.False(t, c.Accepted)
		}
		assert.Less(t, ident.Penalty, 1.0)
	})

	t.Run("corrupt image", func(t *testing.T) {
		ident, err := r.Identify(ctx, FromBytes([]byte("nope")), 3)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		assert.Empty(t, ident.Candidates)
		assert.Equal(t, 0.0, ident.ElapsedMs)
	})

	t.Run("invalid top_n", func(t *testing.T) {
		_, err := r.Identify(ctx, FromPath(dataset[0].Images[0].Path), 0)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("status counts inferences", func(t *testing.T) {
		status := r.Status()
		assert.True(t, status.ModelLoaded)
		assert.Equal(t, 2, status.NumClasses)
		assert.Equal(t, int64(3), status.TotalInferences)
		assert.GreaterOrEqual(t, status.AcceptedInferences, int64(1))
		assert.NotNil(t, registry.Get("recognition.inferences.total"))
	})

	t.Run("reload from disk agrees", func(t *testing.T) {
		reloaded, err := New(testConfig(), root)
		require.NoError(t, err)
		require.True(t, reloaded.Ready())
		for _, eq := range dataset {
			src := FromPath(eq.Images[1].Path)
			a, err := r.Identify(ctx, src, 2)
			require.NoError(t, err)
			b, err := reloaded.Identify(ctx, src, 2)
			require.NoError(t, err)
			assert.Equal(t, a.Candidates, b.Candidates)
		}
	})

	t.Run("inconsistent artifacts are treated as absent", func(t *testing.T) {
		classesPath := root.Path(artifacts.RecognitionDir, artifacts.RecognitionClassesFile)
		require.NoError(t, artifacts.WriteJSONAtomic(classesPath, classesJSON([]ClassInfo{{Code: "only"}})))
		reloaded, err := New(testConfig(), root)
		require.NoError(t, err)
		assert.False(t, reloaded.Ready())
		assert.Contains(t, reloaded.Status().Reason, "inconsistent")

		// the live recognizer keeps its in-memory model
		assert.ErrorIs(t, r.Load(), models.ErrUnavailable)
		assert.True(t, r.Ready())
	})
}

func TestTrainingIsSerialized(t *testing.T) {
	root := testutils.NewModelRoot(t)
	r, err := New(testConfig(), root)
	require.NoError(t, err)

	held := artifacts.NewTrainingLock(root, artifacts.RecognitionDir)
	require.NoError(t, held.TryAcquire())
	defer held.Release()

	_, err = r.Train(context.Background(), writeDataset(t, 5), TrainOptions{})
	assert.ErrorIs(t, err, models.ErrTrainingInProgress)
}

func TestSimilarityPenalty(t *testing.T) {
	tests := []struct {
		combined float64
		want     float64
	}{
		{0.0, 0.1},
		{0.2, 0.1},
		{0.3, 0.3},
		{0.49, 0.3},
		{0.5, 0.6},
		{0.69, 0.6},
		{0.7, 0.7},
		{0.93, 0.93},
		{1.0, 1.0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.combined), func(t *testing.T) {
			assert.Equal(t, tt.want, SimilarityPenalty(tt.combined))
		})
	}
}

func TestOODRejection(t *testing.T) {
	m := &model{classes: []ClassInfo{{Code: "A"}, {Code: "B"}}}
	penalty := SimilarityPenalty(0.2)
	candidates := rank(m, []float64{0.99, 0.01}, penalty, 0.85, 3)

	require.Len(t, candidates, 2)
	assert.Equal(t, "A", candidates[0].Code)
	assert.InDelta(t, 0.099, candidates[0].Confidence, 1e-12)
	assert.InDelta(t, 9.9, candidates[0].ConfidencePercent, 1e-9)
	assert.Equal(t, 0.99, candidates[0].RawConfidence)
	assert.False(t, candidates[0].Accepted)
}

func TestRankShape(t *testing.T) {
	m := &model{classes: []ClassInfo{{Code: "A"}, {Code: "B"}, {Code: "C"}, {Code: "D"}}}
	probs := []float64{0.1, 0.4, 0.2, 0.3}
	for topN := 1; topN <= 6; topN++ {
		got := rank(m, probs, 1, 0.85, topN)
		assert.Len(t, got, min(topN, 4))
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
		}
		assert.Equal(t, "B", got[0].Code)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.ConfidenceThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.FeatureGain = 0
	assert.ErrorContains(t, bad.Validate(), "feature_gain")

	bad = cfg
	bad.Epochs = 0
	assert.Error(t, bad.Validate())

	_, err := New(bad, testutils.NewModelRoot(t))
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	merged := cfg.withOptions(TrainOptions{Epochs: 3})
	assert.Equal(t, 3, merged.Epochs)
	assert.Equal(t, cfg.ValidationSplit, merged.ValidationSplit)

	merged = cfg.withOptions(TrainOptions{}.WithValidationSplit(0))
	assert.Equal(t, 0.0, merged.ValidationSplit)
	assert.Equal(t, cfg.Epochs, merged.Epochs)
}

func TestTrainWithoutValidationSplit(t *testing.T) {
	root := testutils.NewModelRoot(t)
	r, err := New(testConfig(), root)
	require.NoError(t, err)

	var opts TrainOptions
	require.NoError(t, json.Unmarshal([]byte(`{"epochs": 1, "validation_split": 0}`), &opts))
	require.NotNil(t, opts.ValidationSplit)

	metrics, err := r.Train(context.Background(), writeDataset(t, 5), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.EpochsRun)
	assert.Equal(t, metrics.TrainAccuracy, metrics.ValAccuracy)
	assert.Equal(t, metrics.TrainLoss, metrics.ValLoss)
}

func TestClassesJSON(t *testing.T) {
	in := []ClassInfo{{Code: "a"}, {Code: "b"}, {Code: "c"}}
	out, err := classesFromJSON(classesJSON(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = classesFromJSON(map[string]ClassInfo{"0": {}, "5": {}})
	assert.Error(t, err)
}
