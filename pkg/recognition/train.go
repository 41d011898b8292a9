package recognition

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/imaging"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/nn"
)

// TrainMetrics summarize a training run.
type TrainMetrics struct {
	RunID          string  `json:"run_id"`
	TrainAccuracy  float64 `json:"train_accuracy"`
	ValAccuracy    float64 `json:"val_accuracy"`
	TrainLoss      float64 `json:"train_loss"`
	ValLoss        float64 `json:"val_loss"`
	NumClasses     int     `json:"num_classes"`
	TotalImages    int     `json:"total_images"`
	ValidImages    int     `json:"valid_images"`
	RejectedImages int     `json:"rejected_images"`
	EpochsRun      int     `json:"epochs_run"`
	BestEpoch      int     `json:"best_epoch"`
	EarlyStopped   bool    `json:"early_stopped"`
	ObjectiveMet   bool    `json:"objective_met"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// ValAccuracyObjective is the validation accuracy a training run aims for. Runs below it
// still replace the model and report ObjectiveMet=false.
const ValAccuracyObjective = 0.85

// validImage is a training photo that passed the quality gate, already resized.
type validImage struct {
	id    int64
	class int
	rgba  *image.RGBA
}

// sample is one (possibly augmented) training example.
type sample struct {
	tensor imaging.Tensor
	class  int
}

// Train fits a new head on dataset and, on success, persists it and swaps it in. Images
// that fail the quality gate are dropped. When training fails, every source image with
// a database id is marked as errored; on success they are marked entrained.
func (r *Recognizer) Train(ctx context.Context, dataset []models.EquipmentImages, opts TrainOptions) (*TrainMetrics, error) {
	if err := r.lock.TryAcquire(); err != nil {
		return nil, err
	}
	defer r.lock.Release()

	start := time.Now()
	metrics, ids, err := r.train(ctx, dataset, r.cfg.withOptions(opts))
	if err != nil {
		r.telemetry.FailedTrainings.Inc(1)
		r.markImages(ctx, allImageIDs(dataset), models.TrainingImageError)
		return nil, err
	}
	r.telemetry.CompletedTrainings.Inc(1)
	r.markImages(ctx, ids.valid, models.TrainingImageEntrained)
	r.markImages(ctx, ids.rejected, models.TrainingImageError)
	metrics.ElapsedSeconds = time.Since(start).Seconds()
	return metrics, nil
}

// TrainFromStore trains on every equipment photo recorded in the training-image store.
func (r *Recognizer) TrainFromStore(ctx context.Context, opts TrainOptions) (*TrainMetrics, error) {
	if r.images == nil {
		return nil, models.NewUnavailableError("recognition", "no training image store configured")
	}
	dataset, err := r.images.RecognitionDataset(ctx)
	if err != nil {
		return nil, err
	}
	return r.Train(ctx, dataset, opts)
}

type imageIDs struct {
	valid, rejected []int64
}

func (r *Recognizer) train(
	ctx context.Context,
	dataset []models.EquipmentImages,
	cfg Config,
) (*TrainMetrics, imageIDs, error) {
	var ids imageIDs
	runID := uuid.NewString()
	logger := log.WithFields(logrus.Fields{"component": "recognition", "run_id": runID})

	classes, valid, rejected := r.filterDataset(ctx, dataset, cfg, logger)
	ids.rejected = rejected
	for _, v := range valid {
		if v.id != 0 {
			ids.valid = append(ids.valid, v.id)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, ids, err
	}
	if len(valid) < cfg.MinTotalImages {
		return nil, ids, models.NewInsufficientDataError("recognition", len(valid), cfg.MinTotalImages,
			fmt.Sprintf("upload at least %d sharp, well-lit photos (>=%dx%d) per equipment",
				cfg.MinImagesPerClass, imaging.MinResolution, imaging.MinResolution))
	}

	logger = logger.WithFields(logrus.Fields{"classes": len(classes), "images": len(valid)})
	logger.Info("starting recognition training")

	samples := augmentSamples(valid, cfg)
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec
	rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })

	x, labels, err := r.extractFeatures(ctx, samples)
	if err != nil {
		return nil, ids, err
	}

	nVal := int(float64(len(samples)) * cfg.ValidationSplit)
	nTrain := len(samples) - nVal
	scaler, err := fitFeatureScaler(x, nTrain, cfg.FeatureGain)
	if err != nil {
		return nil, ids, err
	}
	scaler.Apply(x)
	train := nn.Dataset{X: sliceRows(x, 0, nTrain), Labels: labels[:nTrain]}
	val := nn.Dataset{Labels: labels[nTrain:]}
	if nVal > 0 {
		val.X = sliceRows(x, nTrain, len(samples))
	}

	checkpointPath := r.root.Path(artifacts.RecognitionDir, artifacts.RecognitionCheckpointFile)
	if err := r.root.Ensure(artifacts.RecognitionDir); err != nil {
		return nil, ids, models.NewPersistenceError(r.root.Component(artifacts.RecognitionDir), err)
	}
	head := nn.NewHead(r.backbone.OutputSize(), len(classes), cfg.Seed)
	hist, err := head.Fit(ctx, train, val, nn.FitOptions{
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		Patience:     cfg.Patience,
		Seed:         cfg.Seed,
		OnCheckpoint: func(epoch int, valAccuracy float64, w nn.HeadWeights) error {
			logger.WithField("epoch", epoch).Debugf("val_accuracy improved to %.3f, checkpointing", valAccuracy)
			return artifacts.WriteGobAtomic(checkpointPath, weightsFile{
				Format:      artifacts.FormatVersion,
				Backbone:    r.backbone.Name(),
				FeatureSize: r.backbone.OutputSize(),
				Scaler:      scaler,
				Head:        w,
			})
		},
	})
	if err != nil {
		return nil, ids, err
	}

	now := time.Now().UTC()
	m := &model{
		head:       head,
		scaler:     scaler,
		classes:    classes,
		references: referenceHistograms(valid, len(classes), cfg.ReferenceImagesPerClass),
		config: ModelConfig{
			NumClasses:          len(classes),
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			TrainedAt:           now,
			Epochs:              cfg.Epochs,
			TotalImages:         len(samples),
			Format:              artifacts.FormatVersion,
			Backbone:            r.backbone.Name(),
			ImageSize:           cfg.ImageSize,
			RunID:               runID,
		},
	}
	if err := saveModel(r.root, m, r.backbone); err != nil {
		return nil, ids, err
	}
	r.model.Store(m)
	r.loadErr.Store(nil)

	best := hist.Best()
	metrics := &TrainMetrics{
		RunID:          runID,
		TrainAccuracy:  best.Accuracy,
		ValAccuracy:    best.ValAccuracy,
		TrainLoss:      best.Loss,
		ValLoss:        best.ValLoss,
		NumClasses:     len(classes),
		TotalImages:    len(samples),
		ValidImages:    len(valid),
		RejectedImages: len(rejected),
		EpochsRun:      len(hist.Epochs),
		BestEpoch:      hist.BestEpoch,
		EarlyStopped:   hist.Stopped,
		ObjectiveMet:   best.ValAccuracy >= ValAccuracyObjective,
	}
	logger.WithFields(logrus.Fields{
		"val_accuracy":  metrics.ValAccuracy,
		"epochs_run":    metrics.EpochsRun,
		"objective_met": metrics.ObjectiveMet,
	}).Info("recognition training finished")
	if !metrics.ObjectiveMet {
		logger.Warnf("validation accuracy %.3f is below the %.2f objective, model is still in use",
			metrics.ValAccuracy, ValAccuracyObjective)
	}
	return metrics, ids, nil
}

// filterDataset applies the quality gate. Equipment without any valid photo is not
// turned into a class.
func (r *Recognizer) filterDataset(
	ctx context.Context,
	dataset []models.EquipmentImages,
	cfg Config,
	logger logrus.FieldLogger,
) ([]ClassInfo, []validImage, []int64) {
	var (
		classes  []ClassInfo
		valid    []validImage
		rejected []int64
	)
	for _, eq := range dataset {
		var kept []validImage
		for _, ti := range eq.Images {
			if ctx.Err() != nil {
				break
			}
			img, err := imaging.Load(ti.Path)
			if err != nil {
				logger.Warnf("skipping %s: %v", ti.Path, err)
				rejected = appendID(rejected, ti.ID)
				continue
			}
			report := imaging.Assess(img, cfg.QualityThreshold)
			if !report.Valid {
				logger.Infof("skipping %s for %s: %s (quality %.2f)", ti.Path, eq.Code, report.Reason, report.Quality)
				rejected = appendID(rejected, ti.ID)
				continue
			}
			kept = append(kept, validImage{
				id:    ti.ID,
				class: len(classes),
				rgba:  imaging.Resize(img, cfg.ImageSize, cfg.ImageSize),
			})
		}
		if len(kept) == 0 {
			logger.Warnf("equipment %s has no valid photos and is left out", eq.Code)
			continue
		}
		if len(kept) < cfg.MinImagesPerClass {
			logger.Warnf("equipment %s has only %d valid photos, %d recommended", eq.Code, len(kept), cfg.MinImagesPerClass)
		}
		classes = append(classes, ClassInfo{Code: eq.Code, Name: eq.Name, Category: eq.Category})
		valid = append(valid, kept...)
	}
	return classes, valid, rejected
}

// augmentSamples returns every original followed by its augmented variants. The
// augmenter is seeded so the sample set is reproducible.
func augmentSamples(valid []validImage, cfg Config) []sample {
	aug := imaging.NewAugmenter(imaging.DefaultAugmentOptions(), cfg.Seed)
	samples := make([]sample, 0, len(valid)*(1+cfg.AugmentationsPerImage))
	for _, v := range valid {
		samples = append(samples, sample{tensor: imaging.FromRGBA(v.rgba), class: v.class})
		for _, variant := range aug.Variants(v.rgba, cfg.AugmentationsPerImage) {
			samples = append(samples, sample{tensor: imaging.FromRGBA(variant), class: v.class})
		}
	}
	return samples
}

// extractFeatures runs the frozen backbone once per sample on all CPUs.
func (r *Recognizer) extractFeatures(ctx context.Context, samples []sample) (*mat.Dense, []int, error) {
	x := mat.NewDense(len(samples), r.backbone.OutputSize(), nil)
	labels := make([]int, len(samples))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < runtime.NumCPU(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				x.SetRow(i, r.backbone.Extract(imaging.Normalize(samples[i].tensor)))
			}
		}()
	}
	var err error
	for i := range samples {
		if err = ctx.Err(); err != nil {
			break
		}
		labels[i] = samples[i].class
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, nil, err
	}
	return x, labels, nil
}

// referenceHistograms keeps the HSV histograms of the first n valid photos per class.
func referenceHistograms(valid []validImage, numClasses, n int) []imaging.Histogram {
	counts := make([]int, numClasses)
	var out []imaging.Histogram
	for _, v := range valid {
		if counts[v.class] >= n {
			continue
		}
		counts[v.class]++
		out = append(out, imaging.HSVHistogram(v.rgba))
	}
	return out
}

func sliceRows(x *mat.Dense, from, to int) *mat.Dense {
	_, cols := x.Dims()
	return mat.DenseCopyOf(x.Slice(from, to, 0, cols))
}

func allImageIDs(dataset []models.EquipmentImages) []int64 {
	var ids []int64
	for _, eq := range dataset {
		for _, ti := range eq.Images {
			ids = appendID(ids, ti.ID)
		}
	}
	return ids
}

func appendID(ids []int64, id int64) []int64 {
	if id == 0 {
		return ids
	}
	return append(ids, id)
}

func (r *Recognizer) markImages(ctx context.Context, ids []int64, status models.TrainingImageStatus) {
	if r.images == nil || len(ids) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := r.images.MarkTrainingImages(ctx, ids, status); err != nil {
		log.Errorf("failed to mark %d training images as %s: %v", len(ids), status, err)
	}
}
