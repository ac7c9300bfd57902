package linear

import (
	"fmt"
	"math"

	"github.com/synaptica-ai/modelhub/pkg/ml"
	"gonum.org/v1/gonum/floats"
)

const TypeName = "SGDClassifier"

// Options mirrors the keyword configuration accepted at registration.
type Options struct {
	Loss         string   `json:"loss"`
	Penalty      string   `json:"penalty"`
	Alpha        *float64 `json:"alpha"`
	LearningRate string   `json:"learning_rate"`
	Eta0         float64  `json:"eta0"`
	PowerT       *float64 `json:"power_t"`
	FitIntercept *bool    `json:"fit_intercept"`
	RandomState  *int64   `json:"random_state"`
}

// SGDClassifier is a one-vs-rest linear model updated by stochastic
// gradient descent, one sample per PartialFit call.
type SGDClassifier struct {
	Loss         string      `json:"loss"`
	Penalty      string      `json:"penalty"`
	Alpha        float64     `json:"alpha"`
	LearningRate string      `json:"learning_rate"`
	Eta0         float64     `json:"eta0"`
	PowerT       float64     `json:"power_t"`
	FitIntercept bool        `json:"fit_intercept"`
	Classes      ml.Classes  `json:"classes,omitempty"`
	Coef         [][]float64 `json:"coef,omitempty"`
	Intercept    []float64   `json:"intercept,omitempty"`
	T            float64     `json:"t"`
	OptimalInit  float64     `json:"optimal_init,omitempty"`
}

func New(params map[string]interface{}) (*SGDClassifier, error) {
	var opts Options
	if err := ml.DecodeParams(params, &opts); err != nil {
		return nil, err
	}

	c := &SGDClassifier{
		Loss:         "hinge",
		Penalty:      "l2",
		Alpha:        0.0001,
		LearningRate: "optimal",
		Eta0:         opts.Eta0,
		PowerT:       0.5,
		FitIntercept: true,
		T:            1,
	}
	if opts.Loss != "" {
		c.Loss = opts.Loss
	}
	if opts.Penalty != "" {
		c.Penalty = opts.Penalty
	}
	if opts.Alpha != nil {
		c.Alpha = *opts.Alpha
	}
	if opts.LearningRate != "" {
		c.LearningRate = opts.LearningRate
	}
	if opts.PowerT != nil {
		c.PowerT = *opts.PowerT
	}
	if opts.FitIntercept != nil {
		c.FitIntercept = *opts.FitIntercept
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.LearningRate == "optimal" {
		typw := math.Sqrt(1.0 / math.Sqrt(c.Alpha))
		initialEta := typw / math.Max(1.0, math.Abs(c.dloss(-typw, 1.0)))
		c.OptimalInit = 1.0 / (initialEta * c.Alpha)
	}
	return c, nil
}

func (c *SGDClassifier) Type() string { return TypeName }

func (c *SGDClassifier) validate() error {
	switch c.Loss {
	case "hinge", "log_loss", "modified_huber", "perceptron", "squared_hinge":
	default:
		return fmt.Errorf("%w: unsupported loss %q", ml.ErrInvalidParams, c.Loss)
	}
	switch c.Penalty {
	case "l2", "l1", "none":
	default:
		return fmt.Errorf("%w: unsupported penalty %q", ml.ErrInvalidParams, c.Penalty)
	}
	if c.Alpha < 0 {
		return fmt.Errorf("%w: alpha must be non-negative", ml.ErrInvalidParams)
	}
	switch c.LearningRate {
	case "optimal":
		if c.Alpha == 0 {
			return fmt.Errorf("%w: alpha must be positive with learning_rate=optimal", ml.ErrInvalidParams)
		}
	case "constant", "invscaling":
		if c.Eta0 <= 0 {
			return fmt.Errorf("%w: eta0 must be positive with learning_rate=%s", ml.ErrInvalidParams, c.LearningRate)
		}
	default:
		return fmt.Errorf("%w: unsupported learning_rate %q", ml.ErrInvalidParams, c.LearningRate)
	}
	return nil
}

// PartialFit applies one SGD step per one-vs-rest model for the sample.
func (c *SGDClassifier) PartialFit(x []float64, y int, classes []int) error {
	if err := ml.CheckFinite(x); err != nil {
		return err
	}
	target, err := c.Classes.Bind(classes, y)
	if err != nil {
		return err
	}
	if c.Coef == nil {
		c.Coef = make([][]float64, len(c.Classes))
		for i := range c.Coef {
			c.Coef[i] = make([]float64, len(x))
		}
		c.Intercept = make([]float64, len(c.Classes))
	}
	if len(x) != len(c.Coef[0]) {
		return fmt.Errorf("%w: expected %d features, got %d", ml.ErrInvalidSample, len(c.Coef[0]), len(x))
	}

	eta := c.eta()
	for k := range c.Coef {
		label := -1.0
		if k == target {
			label = 1.0
		}
		weights := c.Coef[k]
		p := floats.Dot(weights, x) + c.Intercept[k]
		g := c.dloss(p, label)

		c.regularize(weights, eta)
		if g != 0 {
			floats.AddScaled(weights, -eta*g, x)
			if c.FitIntercept {
				c.Intercept[k] -= eta * g
			}
		}
	}
	c.T++
	return nil
}

func (c *SGDClassifier) Predict(x []float64) (int, error) {
	if c.Coef == nil {
		return 0, ml.ErrNotFitted
	}
	if len(x) != len(c.Coef[0]) {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ml.ErrInvalidSample, len(c.Coef[0]), len(x))
	}
	return c.Classes[ml.Argmax(c.DecisionFunction(x))], nil
}

// DecisionFunction returns the signed distance of x to each hyperplane.
func (c *SGDClassifier) DecisionFunction(x []float64) []float64 {
	scores := make([]float64, len(c.Coef))
	for k, weights := range c.Coef {
		scores[k] = floats.Dot(weights, x) + c.Intercept[k]
	}
	return scores
}

func (c *SGDClassifier) eta() float64 {
	switch c.LearningRate {
	case "constant":
		return c.Eta0
	case "invscaling":
		return c.Eta0 / math.Pow(c.T, c.PowerT)
	default:
		return 1.0 / (c.Alpha * (c.OptimalInit + c.T - 1))
	}
}

func (c *SGDClassifier) regularize(weights []float64, eta float64) {
	switch c.Penalty {
	case "l2":
		floats.Scale(math.Max(0, 1-eta*c.Alpha), weights)
	case "l1":
		shrink := eta * c.Alpha
		for j, w := range weights {
			weights[j] = math.Copysign(math.Max(0, math.Abs(w)-shrink), w)
		}
	}
}

// dloss is the derivative of the loss with respect to the prediction p.
func (c *SGDClassifier) dloss(p, y float64) float64 {
	z := p * y
	switch c.Loss {
	case "log_loss":
		if z > 18 {
			return -y * math.Exp(-z)
		}
		if z < -18 {
			return -y
		}
		return -y / (1 + math.Exp(z))
	case "modified_huber":
		if z >= 1 {
			return 0
		}
		if z >= -1 {
			return -2 * (1 - z) * y
		}
		return -4 * y
	case "perceptron":
		if z <= 0 {
			return -y
		}
		return 0
	case "squared_hinge":
		if z < 1 {
			return -2 * (1 - z) * y
		}
		return 0
	default:
		if z < 1 {
			return -y
		}
		return 0
	}
}
