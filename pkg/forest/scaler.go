// Package forest implements the tabular learning pieces of the maintenance engine:
// a standard scaler, CART decision trees, a random forest and stratified splitting. The
// scaler also standardizes the recognizer's pooled image features.
package forest

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers features to zero mean and unit population variance.
// Constant features keep a scale of 1; other scales are raised to MinScale.
type StandardScaler struct {
	Mean     []float64
	Scale    []float64
	MinScale float64
}

func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("scaler: no rows")
	}
	nFeatures := len(x[0])
	s.Mean = make([]float64, nFeatures)
	s.Scale = make([]float64, nFeatures)
	col := make([]float64, len(x))
	for f := 0; f < nFeatures; f++ {
		for i, row := range x {
			col[i] = row[f]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[f] = mean
		switch {
		case std == 0:
			std = 1
		case std < s.MinScale:
			std = s.MinScale
		}
		s.Scale[f] = std
	}
	return nil
}

func (s *StandardScaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = s.TransformRow(row)
	}
	return out
}

func (s *StandardScaler) TransformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	for f, v := range row {
		out[f] = (v - s.Mean[f]) / s.Scale[f]
	}
	return out
}

func (s *StandardScaler) Features() int {
	return len(s.Mean)
}
