package internal

import (
	"bytes"
	"math"
	"text/template"
)

// ParseTemplate renders a text/template with the given data. Alert descriptions and
// assistant responses are templated.
func ParseTemplate(textTemplate string, data any) (string, error) {
	tmpl, err := template.New("template").Parse(textTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", err
	}

	return buf.String(), nil
}

// Clamp bounds v to [lo, hi]. NaN is returned as lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
