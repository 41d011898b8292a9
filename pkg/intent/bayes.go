package intent

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// NaiveBayes is a multinomial Naive Bayes classifier over non-negative feature vectors.
type NaiveBayes struct {
	Alpha          float64
	Classes        []Intent
	ClassLogPrior  []float64
	FeatureLogProb [][]float64
}

func NewNaiveBayes(alpha float64) *NaiveBayes {
	return &NaiveBayes{Alpha: alpha}
}

// Fit estimates class priors from label frequencies and smoothed per-class feature
// probabilities log((N_cf+α)/(N_c+α·V)).
func (nb *NaiveBayes) Fit(x [][]float64, y []Intent, classes []Intent) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("naive bayes: %d samples with %d labels", len(x), len(y))
	}
	nFeatures := len(x[0])
	index := make(map[Intent]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	counts := make([]float64, len(classes))
	featureCounts := make([][]float64, len(classes))
	for i := range featureCounts {
		featureCounts[i] = make([]float64, nFeatures)
	}
	for i, row := range x {
		c, ok := index[y[i]]
		if !ok {
			return fmt.Errorf("naive bayes: label %q is not a declared class", y[i])
		}
		counts[c]++
		floats.Add(featureCounts[c], row)
	}

	nb.Classes = append([]Intent(nil), classes...)
	nb.ClassLogPrior = make([]float64, len(classes))
	nb.FeatureLogProb = make([][]float64, len(classes))
	total := float64(len(x))
	for c := range classes {
		if counts[c] == 0 {
			return fmt.Errorf("naive bayes: class %q has no examples", classes[c])
		}
		nb.ClassLogPrior[c] = math.Log(counts[c] / total)
		denom := floats.Sum(featureCounts[c]) + nb.Alpha*float64(nFeatures)
		flp := make([]float64, nFeatures)
		for f, fc := range featureCounts[c] {
			flp[f] = math.Log((fc + nb.Alpha) / denom)
		}
		nb.FeatureLogProb[c] = flp
	}
	return nil
}

// PredictProba returns the posterior probability of each class for x.
func (nb *NaiveBayes) PredictProba(x []float64) []float64 {
	jll := make([]float64, len(nb.Classes))
	for c := range nb.Classes {
		jll[c] = nb.ClassLogPrior[c] + floats.Dot(x, nb.FeatureLogProb[c])
	}
	logSum := floats.LogSumExp(jll)
	for c := range jll {
		jll[c] = math.Exp(jll[c] - logSum)
	}
	return jll
}
