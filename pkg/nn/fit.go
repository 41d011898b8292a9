package nn

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// FitOptions controls Head.Fit.
type FitOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	// Patience is the number of epochs without val_loss improvement before stopping.
	Patience int
	Seed     int64
	// OnCheckpoint is called whenever val_accuracy improves.
	OnCheckpoint func(epoch int, valAccuracy float64, w HeadWeights) error
}

// EpochStats are the metrics recorded after each epoch.
type EpochStats struct {
	Epoch       int     `json:"epoch"`
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	ValLoss     float64 `json:"val_loss"`
	ValAccuracy float64 `json:"val_accuracy"`
}

// History is the outcome of Fit.
type History struct {
	Epochs    []EpochStats
	BestEpoch int
	Stopped   bool
}

// Dataset is a feature matrix with integer labels.
type Dataset struct {
	X      *mat.Dense
	Labels []int
}

func (d Dataset) Len() int {
	return len(d.Labels)
}

// Fit trains the head with mini-batch Adam. When a validation set is given it monitors
// val_loss for early stopping and restores the best weights at the end. Without a
// validation set training loss and accuracy stand in for the validation metrics.
func (h *Head) Fit(ctx context.Context, train, val Dataset, opts FitOptions) (*History, error) {
	rng := rand.New(rand.NewSource(opts.Seed)) //nolint:gosec
	opt := NewAdam(opts.LearningRate)
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 32
	}

	hist := &History{}
	bestLoss := math.Inf(1)
	bestAcc := math.Inf(-1)
	var best HeadWeights
	wait := 0

	order := make([]int, train.Len())
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return hist, err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for start := 0; start < len(order); start += batch {
			end := min(start+batch, len(order))
			x, labels := train.rows(order[start:end])
			h.TrainBatch(x, labels, opt, rng)
		}

		stats := EpochStats{Epoch: epoch}
		trainProbs := h.Predict(train.X)
		stats.Loss = CrossEntropy(trainProbs, train.Labels)
		stats.Accuracy = Accuracy(trainProbs, train.Labels)
		if val.Len() > 0 {
			valProbs := h.Predict(val.X)
			stats.ValLoss = CrossEntropy(valProbs, val.Labels)
			stats.ValAccuracy = Accuracy(valProbs, val.Labels)
		} else {
			stats.ValLoss, stats.ValAccuracy = stats.Loss, stats.Accuracy
		}
		hist.Epochs = append(hist.Epochs, stats)
		log.Debugf("epoch %d/%d loss=%.4f acc=%.3f val_loss=%.4f val_acc=%.3f",
			epoch, opts.Epochs, stats.Loss, stats.Accuracy, stats.ValLoss, stats.ValAccuracy)

		if stats.ValAccuracy > bestAcc {
			bestAcc = stats.ValAccuracy
			if opts.OnCheckpoint != nil {
				if err := opts.OnCheckpoint(epoch, stats.ValAccuracy, h.Weights()); err != nil {
					return hist, err
				}
			}
		}

		if stats.ValLoss < bestLoss {
			bestLoss = stats.ValLoss
			best = h.Weights()
			hist.BestEpoch = epoch
			wait = 0
			continue
		}
		wait++
		if opts.Patience > 0 && wait >= opts.Patience {
			hist.Stopped = true
			log.Debugf("early stopping at epoch %d, best epoch %d", epoch, hist.BestEpoch)
			break
		}
	}

	if best.Layers != nil {
		if err := h.SetWeights(best); err != nil {
			return hist, err
		}
	}
	return hist, nil
}

func (d Dataset) rows(idx []int) (*mat.Dense, []int) {
	_, cols := d.X.Dims()
	x := mat.NewDense(len(idx), cols, nil)
	labels := make([]int, len(idx))
	for i, j := range idx {
		x.SetRow(i, d.X.RawRowView(j))
		labels[i] = d.Labels[j]
	}
	return x, labels
}

// Best returns the stats of the epoch whose weights were kept.
func (hist *History) Best() EpochStats {
	for _, e := range hist.Epochs {
		if e.Epoch == hist.BestEpoch {
			return e
		}
	}
	if n := len(hist.Epochs); n > 0 {
		return hist.Epochs[n-1]
	}
	return EpochStats{}
}
