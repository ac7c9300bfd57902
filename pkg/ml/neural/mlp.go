package neural

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/synaptica-ai/modelhub/pkg/ml"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const TypeName = "MLPClassifier"

const (
	maxHiddenLayers = 16
	maxLayerWidth   = 4096
	maxWeights      = 1 << 22
)

// LayerSizes accepts either a single width or a list of widths.
type LayerSizes []int

func (s *LayerSizes) UnmarshalJSON(data []byte) error {
	var single int
	if err := json.Unmarshal(data, &single); err == nil {
		*s = LayerSizes{single}
		return nil
	}
	var many []int
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("hidden_layer_sizes must be an integer or a list of integers")
	}
	*s = many
	return nil
}

type Options struct {
	HiddenLayerSizes *LayerSizes `json:"hidden_layer_sizes"`
	Activation       string      `json:"activation"`
	Solver           string      `json:"solver"`
	Alpha            *float64    `json:"alpha"`
	LearningRateInit *float64    `json:"learning_rate_init"`
	Momentum         *float64    `json:"momentum"`
	Beta1            *float64    `json:"beta_1"`
	Beta2            *float64    `json:"beta_2"`
	Epsilon          *float64    `json:"epsilon"`
	RandomState      *int64      `json:"random_state"`
}

// Layer is a dense layer; Weights is row-major with Out rows of In columns.
type Layer struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

// MLPClassifier is a feed-forward network with a softmax output trained
// one sample at a time. Weights are created on the first PartialFit, once
// the input width and class universe are known.
type MLPClassifier struct {
	HiddenLayerSizes []int      `json:"hidden_layer_sizes"`
	Activation       string     `json:"activation"`
	Solver           string     `json:"solver"`
	Alpha            float64    `json:"alpha"`
	LearningRateInit float64    `json:"learning_rate_init"`
	Momentum         float64    `json:"momentum"`
	Beta1            float64    `json:"beta_1"`
	Beta2            float64    `json:"beta_2"`
	Epsilon          float64    `json:"epsilon"`
	Seed             int64      `json:"seed"`
	Classes          ml.Classes `json:"classes,omitempty"`
	Layers           []Layer    `json:"layers,omitempty"`
	FirstMoment      []Layer    `json:"first_moment,omitempty"`
	SecondMoment     []Layer    `json:"second_moment,omitempty"`
	Steps            int        `json:"steps"`
}

func New(params map[string]interface{}) (*MLPClassifier, error) {
	var opts Options
	if err := ml.DecodeParams(params, &opts); err != nil {
		return nil, err
	}

	m := &MLPClassifier{
		HiddenLayerSizes: []int{100},
		Activation:       "relu",
		Solver:           "adam",
		Alpha:            0.0001,
		LearningRateInit: 0.001,
		Momentum:         0.9,
		Beta1:            0.9,
		Beta2:            0.999,
		Epsilon:          1e-8,
	}
	if opts.HiddenLayerSizes != nil {
		m.HiddenLayerSizes = append([]int{}, (*opts.HiddenLayerSizes)...)
	}
	if opts.Activation != "" {
		m.Activation = opts.Activation
	}
	if opts.Solver != "" {
		m.Solver = opts.Solver
	}
	setFloat(&m.Alpha, opts.Alpha)
	setFloat(&m.LearningRateInit, opts.LearningRateInit)
	setFloat(&m.Momentum, opts.Momentum)
	setFloat(&m.Beta1, opts.Beta1)
	setFloat(&m.Beta2, opts.Beta2)
	setFloat(&m.Epsilon, opts.Epsilon)
	if opts.RandomState != nil {
		m.Seed = *opts.RandomState
	} else {
		m.Seed = rand.Int63()
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func (m *MLPClassifier) Type() string { return TypeName }

func (m *MLPClassifier) validate() error {
	if len(m.HiddenLayerSizes) > maxHiddenLayers {
		return fmt.Errorf("%w: at most %d hidden layers", ml.ErrInvalidParams, maxHiddenLayers)
	}
	for _, width := range m.HiddenLayerSizes {
		if width <= 0 || width > maxLayerWidth {
			return fmt.Errorf("%w: hidden layer width must be in [1, %d]", ml.ErrInvalidParams, maxLayerWidth)
		}
	}
	switch m.Activation {
	case "relu", "tanh", "logistic", "identity":
	default:
		return fmt.Errorf("%w: unsupported activation %q", ml.ErrInvalidParams, m.Activation)
	}
	switch m.Solver {
	case "adam", "sgd":
	default:
		return fmt.Errorf("%w: unsupported solver %q", ml.ErrInvalidParams, m.Solver)
	}
	if m.Alpha < 0 || m.LearningRateInit <= 0 {
		return fmt.Errorf("%w: alpha must be non-negative and learning_rate_init positive", ml.ErrInvalidParams)
	}
	if m.Momentum < 0 || m.Momentum > 1 {
		return fmt.Errorf("%w: momentum must be in [0, 1]", ml.ErrInvalidParams)
	}
	if m.Beta1 < 0 || m.Beta1 >= 1 || m.Beta2 < 0 || m.Beta2 >= 1 || m.Epsilon <= 0 {
		return fmt.Errorf("%w: beta_1 and beta_2 must be in [0, 1) and epsilon positive", ml.ErrInvalidParams)
	}
	return nil
}

func (m *MLPClassifier) PartialFit(x []float64, y int, classes []int) error {
	if err := ml.CheckFinite(x); err != nil {
		return err
	}
	target, err := m.Classes.Bind(classes, y)
	if err != nil {
		return err
	}
	if m.Layers == nil {
		if n := m.weightCount(len(x)); n > maxWeights {
			return fmt.Errorf("%w: network would hold %d weights, limit is %d", ml.ErrInvalidSample, n, maxWeights)
		}
		m.initialize(len(x))
	}
	if len(x) != m.Layers[0].In {
		return fmt.Errorf("%w: expected %d features, got %d", ml.ErrInvalidSample, m.Layers[0].In, len(x))
	}

	activations := m.forward(x)
	grads := m.backward(activations, target)
	m.step(grads)
	return nil
}

func (m *MLPClassifier) Predict(x []float64) (int, error) {
	if m.Layers == nil {
		return 0, ml.ErrNotFitted
	}
	if len(x) != m.Layers[0].In {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ml.ErrInvalidSample, m.Layers[0].In, len(x))
	}
	activations := m.forward(x)
	return m.Classes[ml.Argmax(activations[len(activations)-1])], nil
}

func (m *MLPClassifier) weightCount(inputs int) int {
	total, prev := 0, inputs
	for _, width := range append(append([]int{}, m.HiddenLayerSizes...), len(m.Classes)) {
		total += (prev + 1) * width
		prev = width
	}
	return total
}

func (m *MLPClassifier) initialize(inputs int) {
	rng := rand.New(rand.NewSource(m.Seed))
	widths := append([]int{inputs}, m.HiddenLayerSizes...)
	widths = append(widths, len(m.Classes))

	factor := 6.0
	if m.Activation == "logistic" {
		factor = 2.0
	}

	m.Layers = make([]Layer, len(widths)-1)
	m.FirstMoment = make([]Layer, len(widths)-1)
	m.SecondMoment = make([]Layer, len(widths)-1)
	for l := range m.Layers {
		in, out := widths[l], widths[l+1]
		bound := math.Sqrt(factor / float64(in+out))
		layer := newLayer(in, out)
		for i := range layer.Weights {
			layer.Weights[i] = (rng.Float64()*2 - 1) * bound
		}
		for i := range layer.Bias {
			layer.Bias[i] = (rng.Float64()*2 - 1) * bound
		}
		m.Layers[l] = layer
		m.FirstMoment[l] = newLayer(in, out)
		m.SecondMoment[l] = newLayer(in, out)
	}
}

func newLayer(in, out int) Layer {
	return Layer{In: in, Out: out, Weights: make([]float64, in*out), Bias: make([]float64, out)}
}

// matrix views Weights as an Out x In matrix without copying.
func (l Layer) matrix() *mat.Dense {
	return mat.NewDense(l.Out, l.In, l.Weights)
}

// forward returns the input followed by every layer's output.
func (m *MLPClassifier) forward(x []float64) [][]float64 {
	activations := make([][]float64, 0, len(m.Layers)+1)
	activations = append(activations, x)
	current := x
	for l, layer := range m.Layers {
		next := make([]float64, layer.Out)
		mat.NewVecDense(layer.Out, next).MulVec(layer.matrix(), mat.NewVecDense(layer.In, current))
		floats.Add(next, layer.Bias)
		if l == len(m.Layers)-1 {
			softmax(next)
		} else {
			m.activate(next)
		}
		activations = append(activations, next)
		current = next
	}
	return activations
}

// backward computes cross-entropy gradients with L2 regularisation.
func (m *MLPClassifier) backward(activations [][]float64, target int) []Layer {
	grads := make([]Layer, len(m.Layers))

	output := activations[len(activations)-1]
	delta := make([]float64, len(output))
	for k, p := range output {
		delta[k] = p
		if k == target {
			delta[k] -= 1
		}
	}

	for l := len(m.Layers) - 1; l >= 0; l-- {
		layer := m.Layers[l]
		input := activations[l]
		grad := newLayer(layer.In, layer.Out)
		deltaVec := mat.NewVecDense(layer.Out, delta)
		grad.matrix().Outer(1, deltaVec, mat.NewVecDense(layer.In, input))
		floats.AddScaled(grad.Weights, m.Alpha, layer.Weights)
		copy(grad.Bias, delta)
		grads[l] = grad

		if l == 0 {
			break
		}
		prev := make([]float64, layer.In)
		mat.NewVecDense(layer.In, prev).MulVec(layer.matrix().T(), deltaVec)
		for i := range prev {
			prev[i] *= m.derivative(input[i])
		}
		delta = prev
	}
	return grads
}

func (m *MLPClassifier) step(grads []Layer) {
	m.Steps++
	if m.Solver == "sgd" {
		for l := range m.Layers {
			sgdUpdate(m.Layers[l].Weights, m.FirstMoment[l].Weights, grads[l].Weights, m.LearningRateInit, m.Momentum)
			sgdUpdate(m.Layers[l].Bias, m.FirstMoment[l].Bias, grads[l].Bias, m.LearningRateInit, m.Momentum)
		}
		return
	}

	t := float64(m.Steps)
	lr := m.LearningRateInit * math.Sqrt(1-math.Pow(m.Beta2, t)) / (1 - math.Pow(m.Beta1, t))
	for l := range m.Layers {
		m.adamUpdate(m.Layers[l].Weights, m.FirstMoment[l].Weights, m.SecondMoment[l].Weights, grads[l].Weights, lr)
		m.adamUpdate(m.Layers[l].Bias, m.FirstMoment[l].Bias, m.SecondMoment[l].Bias, grads[l].Bias, lr)
	}
}

func sgdUpdate(params, velocity, grads []float64, lr, momentum float64) {
	floats.Scale(momentum, velocity)
	floats.AddScaled(velocity, -lr, grads)
	floats.Add(params, velocity)
}

func (m *MLPClassifier) adamUpdate(params, first, second, grads []float64, lr float64) {
	for i := range params {
		first[i] = m.Beta1*first[i] + (1-m.Beta1)*grads[i]
		second[i] = m.Beta2*second[i] + (1-m.Beta2)*grads[i]*grads[i]
		params[i] -= lr * first[i] / (math.Sqrt(second[i]) + m.Epsilon)
	}
}

func (m *MLPClassifier) activate(values []float64) {
	for i, v := range values {
		switch m.Activation {
		case "relu":
			values[i] = math.Max(0, v)
		case "tanh":
			values[i] = math.Tanh(v)
		case "logistic":
			values[i] = sigmoid(v)
		}
	}
}

// derivative is expressed in terms of the activation output a.
func (m *MLPClassifier) derivative(a float64) float64 {
	switch m.Activation {
	case "relu":
		if a > 0 {
			return 1
		}
		return 0
	case "tanh":
		return 1 - a*a
	case "logistic":
		return a * (1 - a)
	default:
		return 1
	}
}

func softmax(values []float64) {
	floats.AddConst(-floats.Max(values), values)
	for i, v := range values {
		values[i] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(values), values)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
