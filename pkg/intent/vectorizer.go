package intent

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Vectorizer maps preprocessed text to L2-normalized TF-IDF vectors over word n-grams.
type Vectorizer struct {
	NgramMax    int
	MaxFeatures int
	Vocabulary  map[string]int
	IDF         []float64
}

func NewVectorizer(ngramMax, maxFeatures int) *Vectorizer {
	return &Vectorizer{NgramMax: ngramMax, MaxFeatures: maxFeatures}
}

func (v *Vectorizer) ngrams(text string) []string {
	tokens := tokenize(text)
	var out []string
	for n := 1; n <= v.NgramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

// Fit learns the vocabulary and IDF weights. The vocabulary keeps the MaxFeatures terms
// with the highest corpus frequency, ties broken alphabetically, and is indexed in
// alphabetical order.
func (v *Vectorizer) Fit(docs []string) {
	freq := map[string]int{}
	df := map[string]int{}
	for _, d := range docs {
		seen := map[string]bool{}
		for _, g := range v.ngrams(d) {
			freq[g]++
			if !seen[g] {
				seen[g] = true
				df[g]++
			}
		}
	}

	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(a, b int) bool {
		if freq[terms[a]] != freq[terms[b]] {
			return freq[terms[a]] > freq[terms[b]]
		}
		return terms[a] < terms[b]
	})
	if v.MaxFeatures > 0 && len(terms) > v.MaxFeatures {
		terms = terms[:v.MaxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(docs))
	v.Vocabulary = make(map[string]int, len(terms))
	v.IDF = make([]float64, len(terms))
	for i, t := range terms {
		v.Vocabulary[t] = i
		v.IDF[i] = math.Log((1+n)/(1+float64(df[t]))) + 1
	}
}

// Transform vectorizes one preprocessed document. Out-of-vocabulary documents yield the
// zero vector.
func (v *Vectorizer) Transform(text string) []float64 {
	x := make([]float64, len(v.IDF))
	for _, g := range v.ngrams(text) {
		if i, ok := v.Vocabulary[g]; ok {
			x[i]++
		}
	}
	for i := range x {
		x[i] *= v.IDF[i]
	}
	if norm := floats.Norm(x, 2); norm > 0 {
		floats.Scale(1/norm, x)
	}
	return x
}
