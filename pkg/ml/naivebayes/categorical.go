package naivebayes

import (
	"fmt"
	"math"

	"github.com/synaptica-ai/modelhub/pkg/ml"
)

const TypeName = "CategoricalNB"

// MaxCategory bounds the category index a single feature may take.
const MaxCategory = 1 << 16

// maxCells bounds the whole count table: features x classes x categories.
const maxCells = 1 << 22

// minAlpha keeps log-likelihoods finite when alpha is zero.
const minAlpha = 1e-10

type Options struct {
	Alpha         *float64  `json:"alpha"`
	FitPrior      *bool     `json:"fit_prior"`
	ClassPrior    []float64 `json:"class_prior"`
	MinCategories int       `json:"min_categories"`
}

// CategoricalNB is a naive Bayes model over categorical features encoded
// as non-negative integers. Counts accumulate across PartialFit calls.
type CategoricalNB struct {
	Alpha         float64       `json:"alpha"`
	FitPrior      bool          `json:"fit_prior"`
	ClassPrior    []float64     `json:"class_prior,omitempty"`
	MinCategories int           `json:"min_categories,omitempty"`
	Classes       ml.Classes    `json:"classes,omitempty"`
	ClassCount    []float64     `json:"class_count,omitempty"`
	CategoryCount [][][]float64 `json:"category_count,omitempty"`
}

func New(params map[string]interface{}) (*CategoricalNB, error) {
	var opts Options
	if err := ml.DecodeParams(params, &opts); err != nil {
		return nil, err
	}

	nb := &CategoricalNB{
		Alpha:         1.0,
		FitPrior:      true,
		ClassPrior:    opts.ClassPrior,
		MinCategories: opts.MinCategories,
	}
	if opts.Alpha != nil {
		nb.Alpha = *opts.Alpha
	}
	if opts.FitPrior != nil {
		nb.FitPrior = *opts.FitPrior
	}

	if nb.Alpha < 0 {
		return nil, fmt.Errorf("%w: alpha must be non-negative", ml.ErrInvalidParams)
	}
	if nb.MinCategories < 0 || nb.MinCategories > MaxCategory {
		return nil, fmt.Errorf("%w: min_categories out of range", ml.ErrInvalidParams)
	}
	for _, p := range nb.ClassPrior {
		if p < 0 || math.IsNaN(p) {
			return nil, fmt.Errorf("%w: class_prior entries must be non-negative", ml.ErrInvalidParams)
		}
	}
	return nb, nil
}

func (nb *CategoricalNB) Type() string { return TypeName }

func (nb *CategoricalNB) PartialFit(x []float64, y int, classes []int) error {
	categories, err := toCategories(x)
	if err != nil {
		return err
	}
	target, err := nb.Classes.Bind(classes, y)
	if err != nil {
		return err
	}
	if nb.ClassCount == nil {
		if len(nb.ClassPrior) > 0 && len(nb.ClassPrior) != len(nb.Classes) {
			nb.Classes = nil
			return fmt.Errorf("%w: %d priors for %d classes", ml.ErrInvalidSample, len(nb.ClassPrior), len(classes))
		}
	} else if len(categories) != len(nb.CategoryCount) {
		return fmt.Errorf("%w: expected %d features, got %d", ml.ErrInvalidSample, len(nb.CategoryCount), len(categories))
	}
	if cells := nb.cellsFor(categories); cells > maxCells {
		if nb.ClassCount == nil {
			nb.Classes = nil
		}
		return fmt.Errorf("%w: count table would hold %d cells, limit is %d", ml.ErrInvalidSample, cells, maxCells)
	}
	if nb.ClassCount == nil {
		nb.ClassCount = make([]float64, len(nb.Classes))
		nb.CategoryCount = make([][][]float64, len(categories))
		for f := range nb.CategoryCount {
			nb.CategoryCount[f] = make([][]float64, len(nb.Classes))
		}
	}

	nb.ClassCount[target]++
	for f, cat := range categories {
		counts := nb.CategoryCount[f]
		if width := cat + 1; width > len(counts[0]) {
			for k := range counts {
				counts[k] = grow(counts[k], width)
			}
		}
		counts[target][cat]++
	}
	return nil
}

func (nb *CategoricalNB) Predict(x []float64) (int, error) {
	if nb.ClassCount == nil {
		return 0, ml.ErrNotFitted
	}
	categories, err := toCategories(x)
	if err != nil {
		return 0, err
	}
	if len(categories) != len(nb.CategoryCount) {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ml.ErrInvalidSample, len(nb.CategoryCount), len(categories))
	}
	return nb.Classes[ml.Argmax(nb.jointLogLikelihood(categories))], nil
}

func (nb *CategoricalNB) jointLogLikelihood(categories []int) []float64 {
	jll := nb.classLogPrior()
	alpha := math.Max(nb.Alpha, minAlpha)
	for f, cat := range categories {
		counts := nb.CategoryCount[f]
		nCategories := len(counts[0])
		if nb.MinCategories > nCategories {
			nCategories = nb.MinCategories
		}
		for k := range jll {
			var count float64
			if cat < len(counts[k]) {
				count = counts[k][cat]
			}
			jll[k] += math.Log(count+alpha) - math.Log(nb.ClassCount[k]+alpha*float64(nCategories))
		}
	}
	return jll
}

func (nb *CategoricalNB) classLogPrior() []float64 {
	prior := make([]float64, len(nb.ClassCount))
	switch {
	case len(nb.ClassPrior) > 0:
		for k, p := range nb.ClassPrior {
			prior[k] = math.Log(p)
		}
	case nb.FitPrior:
		var total float64
		for _, c := range nb.ClassCount {
			total += c
		}
		for k, c := range nb.ClassCount {
			prior[k] = math.Log(c) - math.Log(total)
		}
	default:
		for k := range prior {
			prior[k] = -math.Log(float64(len(prior)))
		}
	}
	return prior
}

// cellsFor returns the size of the count table once categories are counted.
func (nb *CategoricalNB) cellsFor(categories []int) int {
	var cells int
	for f, cat := range categories {
		width := cat + 1
		if nb.CategoryCount != nil {
			if have := len(nb.CategoryCount[f][0]); have > width {
				width = have
			}
		}
		cells += width
	}
	return cells * len(nb.Classes)
}

func toCategories(x []float64) ([]int, error) {
	if err := ml.CheckFinite(x); err != nil {
		return nil, err
	}
	out := make([]int, len(x))
	for i, v := range x {
		if v < 0 || v != math.Trunc(v) || v >= MaxCategory {
			return nil, fmt.Errorf("%w: feature %d must be a category index in [0, %d)", ml.ErrInvalidSample, i, MaxCategory)
		}
		out[i] = int(v)
	}
	return out, nil
}

func grow(counts []float64, width int) []float64 {
	if len(counts) >= width {
		return counts
	}
	out := make([]float64, width)
	copy(out, counts)
	return out
}
