package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// FitOptions controls the shrinkage applied while fitting. One-hot columns
// make the unpenalized problem singular, so Ridge must stay positive.
type FitOptions struct {
	Ridge         float64
	MaxIterations int
}

// DefaultFitOptions are used when a zero FitOptions is passed.
var DefaultFitOptions = FitOptions{Ridge: 1e-3, MaxIterations: 500}

func (o FitOptions) withDefaults() FitOptions {
	if o.Ridge <= 0 {
		o.Ridge = DefaultFitOptions.Ridge
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultFitOptions.MaxIterations
	}
	return o
}

// ErrNonFinite is returned when a fit produces NaN or infinite parameters.
var ErrNonFinite = errors.New("fit produced non-finite parameters")

// FitRegressor fits ordinary least squares with a small ridge penalty on the
// weights. Inputs and target are centred, then the penalty is applied by
// appending sqrt(ridge) pseudo-observations for each column.
func FitRegressor(x [][]float64, y []float64, opts FitOptions) (intercept float64, weights []float64, err error) {
	if err := checkShape(x, y); err != nil {
		return 0, nil, err
	}
	opts = opts.withDefaults()
	width := len(x[0])
	meanY := stat.Mean(y, nil)
	meanX := make([]float64, width)
	for _, row := range x {
		floats.Add(meanX, row)
	}
	floats.Scale(1/float64(len(x)), meanX)

	r := new(regression.Regression)
	r.SetObserved("y")
	for j := 0; j < width; j++ {
		r.SetVar(j, "x"+strconv.Itoa(j))
	}
	for i, row := range x {
		centred := make([]float64, width)
		floats.SubTo(centred, row, meanX)
		r.Train(regression.DataPoint(y[i]-meanY, centred))
	}
	penalty := math.Sqrt(opts.Ridge)
	for j := 0; j < width; j++ {
		row := make([]float64, width)
		row[j] = penalty
		r.Train(regression.DataPoint(0, row))
	}

	if err := r.Run(); err != nil {
		return 0, nil, fmt.Errorf("least squares: %w", err)
	}
	coeffs := r.GetCoeffs()
	if len(coeffs) != width+1 {
		return 0, nil, fmt.Errorf("least squares: expected %d coefficients, got %d", width+1, len(coeffs))
	}
	weights = append([]float64(nil), coeffs[1:]...)
	intercept = coeffs[0] + meanY - floats.Dot(weights, meanX)
	if !finite(intercept) || !allFinite(weights) {
		return 0, nil, ErrNonFinite
	}
	return intercept, weights, nil
}

// FitClassifier fits L2-regularized logistic regression on 0/1 labels by
// minimizing mean log-loss with L-BFGS. The intercept is not penalized.
func FitClassifier(x [][]float64, y []float64, opts FitOptions) (intercept float64, weights []float64, err error) {
	if err := checkShape(x, y); err != nil {
		return 0, nil, err
	}
	opts = opts.withDefaults()
	n := float64(len(x))
	width := len(x[0])

	labels := make([]float64, len(y))
	for i, v := range y {
		if v > 0.5 {
			labels[i] = 1
		}
	}

	problem := optimize.Problem{
		Func: func(params []float64) float64 {
			b, w := params[0], params[1:]
			var loss float64
			for i, row := range x {
				z := b + floats.Dot(w, row)
				// log(1+e^z) - y*z, stable for large |z|
				loss += softplus(z) - labels[i]*z
			}
			return loss/n + 0.5*opts.Ridge*floats.Dot(w, w)
		},
		Grad: func(grad, params []float64) {
			b, w := params[0], params[1:]
			for i := range grad {
				grad[i] = 0
			}
			for i, row := range x {
				d := sigmoid(b+floats.Dot(w, row)) - labels[i]
				grad[0] += d
				floats.AddScaled(grad[1:], d, row)
			}
			floats.Scale(1/n, grad)
			floats.AddScaled(grad[1:], opts.Ridge, w)
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: 1e-6,
		MajorIterations:   opts.MaxIterations,
	}
	res, err := optimize.Minimize(problem, make([]float64, width+1), settings, &optimize.LBFGS{})
	// A line search that stalls near the optimum still leaves a usable point.
	if err != nil && (res == nil || !allFinite(res.X)) {
		return 0, nil, fmt.Errorf("logistic regression: %w", err)
	}
	intercept = res.X[0]
	weights = append([]float64(nil), res.X[1:]...)
	if !finite(intercept) || !allFinite(weights) {
		return 0, nil, ErrNonFinite
	}
	return intercept, weights, nil
}

func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func checkShape(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return errors.New("no training rows")
	}
	if len(x) != len(y) {
		return fmt.Errorf("%d rows but %d labels", len(x), len(y))
	}
	width := len(x[0])
	if width == 0 {
		return errors.New("no feature columns")
	}
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("row %d has %d columns, expected %d", i, len(row), width)
		}
	}
	return nil
}
