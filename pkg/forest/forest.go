package forest

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// Options configures a random forest.
type Options struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// BalancedWeights weights every class by n/(k*count_c).
	BalancedWeights bool
	Seed            int64
}

func DefaultOptions() Options {
	return Options{
		Trees:           100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		BalancedWeights: true,
		Seed:            42,
	}
}

// RandomForest is a bagged ensemble of CART trees over integer class labels.
type RandomForest struct {
	Options  Options
	Classes  []int
	Features int
	Trees    []*DecisionTree
}

func New(opts Options) *RandomForest {
	return &RandomForest{Options: opts}
}

// ClassWeights returns the balanced weight of each class index.
func ClassWeights(y []int, numClasses int) []float64 {
	counts := make([]float64, numClasses)
	for _, c := range y {
		counts[c]++
	}
	w := make([]float64, numClasses)
	for c, n := range counts {
		if n > 0 {
			w[c] = float64(len(y)) / (float64(numClasses) * n)
		}
	}
	return w
}

// Fit grows Options.Trees trees on bootstrap samples of x. Labels may be any integers;
// they are mapped onto the sorted distinct values found in y.
func (f *RandomForest) Fit(x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("forest: %d rows and %d labels", len(x), len(y))
	}
	f.Features = len(x[0])
	f.Classes = distinct(y)
	index := make(map[int]int, len(f.Classes))
	for i, c := range f.Classes {
		index[c] = i
	}
	yi := make([]int, len(y))
	for i, c := range y {
		yi[i] = index[c]
	}

	weights := make([]float64, len(y))
	classWeights := ClassWeights(yi, len(f.Classes))
	for i, c := range yi {
		weights[i] = 1
		if f.Options.BalancedWeights {
			weights[i] = classWeights[c]
		}
	}

	treeOpts := TreeOptions{
		MaxDepth:        f.Options.MaxDepth,
		MinSamplesSplit: f.Options.MinSamplesSplit,
		MinSamplesLeaf:  f.Options.MinSamplesLeaf,
		MaxFeatures:     max(1, int(math.Round(math.Sqrt(float64(f.Features))))),
	}

	// per-tree seeds are drawn up front so the result does not depend on scheduling
	master := rand.New(rand.NewSource(f.Options.Seed))
	seeds := make([]int64, max(1, f.Options.Trees))
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	f.Trees = make([]*DecisionTree, len(seeds))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < runtime.GOMAXPROCS(0); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				rng := rand.New(rand.NewSource(seeds[t]))
				idx := make([]int, len(x))
				for i := range idx {
					idx[i] = rng.Intn(len(x))
				}
				f.Trees[t] = FitTree(x, yi, weights, idx, len(f.Classes), treeOpts, rng)
			}
		}()
	}
	for t := range seeds {
		jobs <- t
	}
	close(jobs)
	wg.Wait()
	return nil
}

// PredictProba averages the tree distributions. The result is ordered like Classes.
func (f *RandomForest) PredictProba(row []float64) []float64 {
	out := make([]float64, len(f.Classes))
	if len(f.Trees) == 0 {
		return out
	}
	for _, t := range f.Trees {
		for c, p := range t.PredictProba(row) {
			out[c] += p
		}
	}
	for c := range out {
		out[c] /= float64(len(f.Trees))
	}
	return out
}

// Predict returns the most probable class label.
func (f *RandomForest) Predict(row []float64) int {
	p := f.PredictProba(row)
	best := 0
	for c := range p {
		if p[c] > p[best] {
			best = c
		}
	}
	return f.Classes[best]
}

// ClassIndex returns the position of label in Classes, or -1.
func (f *RandomForest) ClassIndex(label int) int {
	for i, c := range f.Classes {
		if c == label {
			return i
		}
	}
	return -1
}

func distinct(y []int) []int {
	seen := map[int]struct{}{}
	var out []int
	for _, c := range y {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Ints(out)
	return out
}
