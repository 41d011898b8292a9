package forest

import (
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions row indices into train and test sets, keeping each label's
// share roughly equal in both. Every label with at least two rows contributes one row
// or more to each side.
func StratifiedSplit(y []int, testFrac float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	for _, rows := range byLabel(y) {
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		nTest := int(math.Round(float64(len(rows)) * testFrac))
		if len(rows) >= 2 {
			nTest = min(max(nTest, 1), len(rows)-1)
		} else {
			nTest = 0
		}
		test = append(test, rows[:nTest]...)
		train = append(train, rows[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// StratifiedKFold deals each label's rows round-robin into k folds and returns the test
// indices of every fold.
func StratifiedKFold(y []int, k int, seed int64) [][]int {
	if k < 2 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))
	folds := make([][]int, k)
	next := 0
	for _, rows := range byLabel(y) {
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		for _, r := range rows {
			folds[next%k] = append(folds[next%k], r)
			next++
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds
}

// Complement returns the indices in [0,n) not present in subset.
func Complement(n int, subset []int) []int {
	in := make([]bool, n)
	for _, i := range subset {
		in[i] = true
	}
	out := make([]int, 0, n-len(subset))
	for i := 0; i < n; i++ {
		if !in[i] {
			out = append(out, i)
		}
	}
	return out
}

// MinorityCount is the size of the smallest label.
func MinorityCount(y []int) int {
	m := 0
	for _, rows := range byLabel(y) {
		if m == 0 || len(rows) < m {
			m = len(rows)
		}
	}
	return m
}

// Accuracy is the share of predictions equal to the truth.
func Accuracy(truth, pred []int) float64 {
	if len(truth) == 0 {
		return 0
	}
	var ok int
	for i := range truth {
		if truth[i] == pred[i] {
			ok++
		}
	}
	return float64(ok) / float64(len(truth))
}

// Rows selects x[i] for i in idx without copying the rows.
func Rows(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for j, i := range idx {
		out[j] = x[i]
	}
	return out
}

func Labels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for j, i := range idx {
		out[j] = y[i]
	}
	return out
}

// byLabel groups row indices per label, labels in ascending order.
func byLabel(y []int) [][]int {
	groups := map[int][]int{}
	for i, c := range y {
		groups[c] = append(groups[c], i)
	}
	labels := make([]int, 0, len(groups))
	for c := range groups {
		labels = append(labels, c)
	}
	sort.Ints(labels)
	out := make([][]int, len(labels))
	for i, c := range labels {
		out[i] = groups[c]
	}
	return out
}
