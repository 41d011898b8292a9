package maintenance

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/forest"
	"github.com/labmanager/labml/pkg/models"
)

// TrainMetrics summarize a training run.
type TrainMetrics struct {
	RunID          string    `json:"run_id"`
	TrainingRows   int       `json:"training_rows"`
	SyntheticRows  int       `json:"synthetic_rows"`
	TotalRows      int       `json:"total_rows"`
	PositiveRate   float64   `json:"positive_rate"`
	TestAccuracy   float64   `json:"test_accuracy"`
	CVAccuracy     float64   `json:"cv_accuracy"`
	CVFolds        int       `json:"cv_folds"`
	SingleClass    bool      `json:"single_class"`
	MeetsObjective bool      `json:"meets_objective"`
	TrainedAt      time.Time `json:"trained_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// Train fits a new scaler and forest on the current equipment history, persists both and
// swaps them in.
func (e *Engine) Train(ctx context.Context) (*TrainMetrics, error) {
	if err := e.lock.TryAcquire(); err != nil {
		return nil, err
	}
	defer e.lock.Release()

	start := time.Now()
	history, err := e.source.ActiveEquipmentHistory(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var (
		x [][]float64
		y []int
	)
	for _, h := range history {
		if !InTrainingSet(h) {
			continue
		}
		x = append(x, FeatureRow(h, now))
		y = append(y, Label(h))
	}
	if len(x) < e.cfg.MinTrainingRows {
		return nil, models.NewInsufficientDataError("maintenance", len(x), e.cfg.MinTrainingRows,
			"record completed maintenance or loans for more equipment")
	}

	metrics := &TrainMetrics{RunID: uuid.NewString(), TrainingRows: len(x)}
	logger := log.WithFields(logrus.Fields{"component": "maintenance", "run_id": metrics.RunID})

	rng := rand.New(rand.NewSource(e.cfg.Seed))
	if len(x) < e.cfg.AugmentBelow {
		x, y = Augment(x, y, e.cfg.AugmentTarget, rng)
		metrics.SyntheticRows = len(x) - metrics.TrainingRows
		logger.Infof("augmented %d rows with %d synthetic rows", metrics.TrainingRows, metrics.SyntheticRows)
	}
	metrics.TotalRows = len(x)
	var positives int
	for _, c := range y {
		positives += c
	}
	metrics.PositiveRate = internal.Round(float64(positives)/float64(len(y)), 4)

	var scaler forest.StandardScaler
	if err := scaler.Fit(x); err != nil {
		return nil, err
	}
	xs := scaler.Transform(x)

	testFrac := 0.2
	if len(xs) < 30 {
		testFrac = 0.1
	}
	trainIdx, testIdx := forest.StratifiedSplit(y, testFrac, e.cfg.Seed)
	if len(trainIdx) == 0 {
		trainIdx, testIdx = testIdx, nil
	}

	rf := forest.New(e.forestOptions())
	if err := rf.Fit(forest.Rows(xs, trainIdx), forest.Labels(y, trainIdx)); err != nil {
		return nil, err
	}
	metrics.SingleClass = len(rf.Classes) < 2
	evalIdx := testIdx
	if len(evalIdx) == 0 {
		evalIdx = trainIdx
	}
	metrics.TestAccuracy = internal.Round(score(rf, forest.Rows(xs, evalIdx), forest.Labels(y, evalIdx)), 4)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.CVAccuracy, metrics.CVFolds, err = e.crossValidate(xs, y)
	if err != nil {
		return nil, err
	}
	if metrics.CVFolds < 2 {
		metrics.CVAccuracy = metrics.TestAccuracy
	}
	metrics.MeetsObjective = metrics.CVAccuracy >= e.cfg.ObjectiveAccuracy
	metrics.TrainedAt = time.Now().UTC()

	p := &predictor{
		scaler: scaler,
		forest: rf,
		meta: modelFile{
			Format:       artifacts.FormatVersion,
			RunID:        metrics.RunID,
			Features:     FeatureNames,
			TrainedAt:    metrics.TrainedAt,
			TestAccuracy: metrics.TestAccuracy,
			CVAccuracy:   metrics.CVAccuracy,
			Forest:       rf,
		},
	}
	if err := savePredictor(e.root, p); err != nil {
		return nil, err
	}
	if info, err := os.Stat(e.root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceModelFile)); err == nil {
		p.modTime = info.ModTime()
	}
	e.model.Store(p)

	metrics.ElapsedSeconds = time.Since(start).Seconds()
	logger.WithFields(logrus.Fields{
		"rows":          metrics.TotalRows,
		"test_accuracy": metrics.TestAccuracy,
		"cv_accuracy":   metrics.CVAccuracy,
	}).Info("maintenance model trained")
	if metrics.SingleClass {
		logger.Warn("training data has a single class, predictions will use the physical-state heuristic")
	}
	return metrics, nil
}

func (e *Engine) forestOptions() forest.Options {
	opts := forest.DefaultOptions()
	opts.Trees = e.cfg.Trees
	opts.MaxDepth = e.cfg.MaxDepth
	opts.Seed = e.cfg.Seed
	return opts
}

// crossValidate runs stratified k-fold with k = min(5, n/2), lowered to the minority
// class size. It returns zero folds when k falls below 2.
func (e *Engine) crossValidate(x [][]float64, y []int) (float64, int, error) {
	k := min(5, len(x)/2, forest.MinorityCount(y))
	folds := forest.StratifiedKFold(y, k, e.cfg.Seed)
	if len(folds) == 0 {
		return 0, 0, nil
	}
	var total float64
	for _, test := range folds {
		train := forest.Complement(len(x), test)
		rf := forest.New(e.forestOptions())
		if err := rf.Fit(forest.Rows(x, train), forest.Labels(y, train)); err != nil {
			return 0, 0, err
		}
		total += score(rf, forest.Rows(x, test), forest.Labels(y, test))
	}
	return internal.Round(total/float64(len(folds)), 4), len(folds), nil
}

func score(rf *forest.RandomForest, x [][]float64, y []int) float64 {
	pred := make([]int, len(x))
	for i, row := range x {
		pred[i] = rf.Predict(row)
	}
	return forest.Accuracy(y, pred)
}
