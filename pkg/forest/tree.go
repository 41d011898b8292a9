package forest

import (
	"math/rand"
	"sort"
)

// TreeOptions bound the growth of a decision tree.
type TreeOptions struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of candidate features per split; 0 means all.
	MaxFeatures int
}

// Node is one node of a fitted tree, stored in a flat slice. Leaves have Feature -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Value is the weighted class distribution at the node, normalized to sum to 1.
	Value []float64
}

// DecisionTree is a CART classifier using weighted Gini impurity.
type DecisionTree struct {
	Nodes      []Node
	NumClasses int
}

type treeBuilder struct {
	x       [][]float64
	y       []int
	w       []float64
	opts    TreeOptions
	rng     *rand.Rand
	classes int
	tree    *DecisionTree
}

// FitTree grows a tree on the rows listed in idx with per-row weights w.
func FitTree(x [][]float64, y []int, w []float64, idx []int, numClasses int, opts TreeOptions, rng *rand.Rand) *DecisionTree {
	t := &DecisionTree{NumClasses: numClasses}
	b := &treeBuilder{x: x, y: y, w: w, opts: opts, rng: rng, classes: numClasses, tree: t}
	b.build(idx, 0)
	return t
}

func (b *treeBuilder) distribution(idx []int) ([]float64, float64) {
	dist := make([]float64, b.classes)
	var total float64
	for _, i := range idx {
		dist[b.y[i]] += b.w[i]
		total += b.w[i]
	}
	return dist, total
}

func gini(dist []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	g := 1.0
	for _, v := range dist {
		p := v / total
		g -= p * p
	}
	return g
}

func (b *treeBuilder) leaf(dist []float64, total float64) int {
	value := make([]float64, len(dist))
	if total > 0 {
		for c, v := range dist {
			value[c] = v / total
		}
	}
	b.tree.Nodes = append(b.tree.Nodes, Node{Feature: -1, Value: value})
	return len(b.tree.Nodes) - 1
}

func (b *treeBuilder) build(idx []int, depth int) int {
	dist, total := b.distribution(idx)
	impurity := gini(dist, total)
	if impurity == 0 ||
		(b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth) ||
		len(idx) < max(2, b.opts.MinSamplesSplit) {
		return b.leaf(dist, total)
	}

	feature, threshold, ok := b.bestSplit(idx, impurity, total)
	if !ok {
		return b.leaf(dist, total)
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	node := b.leaf(dist, total)
	b.tree.Nodes[node].Feature = feature
	b.tree.Nodes[node].Threshold = threshold
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Nodes[node].Left = l
	b.tree.Nodes[node].Right = r
	return node
}

// bestSplit searches a random subset of features for the threshold with the largest
// weighted impurity decrease.
func (b *treeBuilder) bestSplit(idx []int, parentImpurity, total float64) (int, float64, bool) {
	nFeatures := len(b.x[idx[0]])
	features := b.rng.Perm(nFeatures)
	if k := b.opts.MaxFeatures; k > 0 && k < nFeatures {
		features = features[:k]
	}
	minLeaf := max(1, b.opts.MinSamplesLeaf)

	bestGain := 0.0
	bestFeature, bestThreshold := -1, 0.0
	order := append([]int(nil), idx...)
	for _, f := range features {
		sort.Slice(order, func(a, c int) bool { return b.x[order[a]][f] < b.x[order[c]][f] })

		left := make([]float64, b.classes)
		right, _ := b.distribution(order)
		var leftW float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			left[b.y[i]] += b.w[i]
			right[b.y[i]] -= b.w[i]
			leftW += b.w[i]

			cur, next := b.x[i][f], b.x[order[k+1]][f]
			if cur == next || k+1 < minLeaf || len(order)-k-1 < minLeaf {
				continue
			}
			rightW := total - leftW
			child := (leftW*gini(left, leftW) + rightW*gini(right, rightW)) / total
			if gain := parentImpurity - child; gain > bestGain+1e-12 {
				bestGain = gain
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
			}
		}
	}
	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

// PredictProba walks the tree for one row.
func (t *DecisionTree) PredictProba(row []float64) []float64 {
	n := 0
	for t.Nodes[n].Feature >= 0 {
		node := t.Nodes[n]
		if row[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
	return t.Nodes[n].Value
}

// Depth returns the maximum depth of the tree, a lone leaf being depth 0.
func (t *DecisionTree) Depth() int {
	var walk func(n, d int) int
	walk = func(n, d int) int {
		node := t.Nodes[n]
		if node.Feature < 0 {
			return d
		}
		return max(walk(node.Left, d+1), walk(node.Right, d+1))
	}
	return walk(0, 0)
}
