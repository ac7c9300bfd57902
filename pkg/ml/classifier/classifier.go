// Package classifier exposes the incremental learners behind one contract
// and resolves them by their registered type name.
package classifier

import (
	"errors"
	"fmt"

	"github.com/synaptica-ai/modelhub/pkg/ml"
	"github.com/synaptica-ai/modelhub/pkg/ml/linear"
	"github.com/synaptica-ai/modelhub/pkg/ml/naivebayes"
	"github.com/synaptica-ai/modelhub/pkg/ml/neural"
)

var (
	ErrUnknownType   = errors.New("unknown classifier type")
	ErrCorruptState  = errors.New("corrupt classifier state")
	ErrInvalidParams = ml.ErrInvalidParams
	ErrInvalidSample = ml.ErrInvalidSample
	ErrNotFitted     = ml.ErrNotFitted
)

// Classifier is an incrementally trainable single-sample model.
type Classifier interface {
	Type() string
	PartialFit(x []float64, y int, classes []int) error
	Predict(x []float64) (int, error)
}

type Maker func(params map[string]interface{}) (Classifier, error)

// Names lists the registered types in their canonical order.
var Names = []string{linear.TypeName, naivebayes.TypeName, neural.TypeName}

var makers = map[string]Maker{
	linear.TypeName: func(p map[string]interface{}) (Classifier, error) {
		return linear.New(p)
	},
	naivebayes.TypeName: func(p map[string]interface{}) (Classifier, error) {
		return naivebayes.New(p)
	},
	neural.TypeName: func(p map[string]interface{}) (Classifier, error) {
		return neural.New(p)
	},
}

var blanks = map[string]func() Classifier{
	linear.TypeName:     func() Classifier { return &linear.SGDClassifier{} },
	naivebayes.TypeName: func() Classifier { return &naivebayes.CategoricalNB{} },
	neural.TypeName:     func() Classifier { return &neural.MLPClassifier{} },
}

func Known(name string) bool {
	_, ok := makers[name]
	return ok
}

// New constructs a fresh classifier of the named type.
func New(name string, params map[string]interface{}) (Classifier, error) {
	maker, ok := makers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return maker(params)
}

// Classes returns the label universe [0, n).
func Classes(n int) []int {
	classes := make([]int, n)
	for i := range classes {
		classes[i] = i
	}
	return classes
}
