/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/Knetic/govaluate"
	"github.com/eclesh/welford"
)

// AccuracyHelp describes what can be used in accuracy expression
const AccuracyHelp = `accuracy expression is evaluated with govaluate over the samples of the aggregation window.
supported variables:
  offset (list of offsets from master, in ns)
  delay (list of path delays, in ns)
  freq (list of frequency adjustments, in PPB)
supported functions:
  abs(value), max(a, b), mean(values), variance(values), stddev(values), p99(values)`

// DefaultAccuracyExpression is the default estimate of clock accuracy in ns
const DefaultAccuracyExpression = "abs(mean(offset)) + 2.0 * stddev(offset)"

var supportedVariables = []string{"offset", "delay", "freq"}

func isSupportedVar(varName string) bool {
	for _, v := range supportedVariables {
		if v == varName {
			return true
		}
	}
	return false
}

func floats(name string, args []interface{}) ([]float64, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: wrong number of arguments: want 1, got %d", name, len(args))
	}
	vals, ok := args[0].([]float64)
	if !ok {
		return nil, fmt.Errorf("%s: argument must be a list of values", name)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: no values", name)
	}
	return vals, nil
}

func mean(input []float64) float64 {
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Mean()
}

func variance(input []float64) float64 {
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Variance()
}

func stddev(input []float64) float64 {
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Stddev()
}

func p99(input []float64) float64 {
	c := make([]float64, len(input))
	copy(c, input)
	sort.Float64s(c)
	p1 := len(c) / 100
	return c[len(c)-1-p1]
}

// all the functions we support in expressions
var functions = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: wrong number of arguments: want 1, got %d", len(args))
		}
		val, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs: argument must be a single value")
		}
		return math.Abs(val), nil
	},
	"max": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("max: wrong number of arguments: want 2, got %d", len(args))
		}
		val1, ok1 := args[0].(float64)
		val2, ok2 := args[1].(float64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("max: arguments must be single values")
		}
		return math.Max(val1, val2), nil
	},
	"mean": func(args ...interface{}) (interface{}, error) {
		vals, err := floats("mean", args)
		if err != nil {
			return nil, err
		}
		return mean(vals), nil
	},
	"variance": func(args ...interface{}) (interface{}, error) {
		vals, err := floats("variance", args)
		if err != nil {
			return nil, err
		}
		return variance(vals), nil
	},
	"stddev": func(args ...interface{}) (interface{}, error) {
		vals, err := floats("stddev", args)
		if err != nil {
			return nil, err
		}
		return stddev(vals), nil
	},
	"p99": func(args ...interface{}) (interface{}, error) {
		vals, err := floats("p99", args)
		if err != nil {
			return nil, err
		}
		return p99(vals), nil
	},
}

// Accuracy is a parsed accuracy expression
type Accuracy struct {
	expr *govaluate.EvaluableExpression
}

// NewAccuracy parses exprStr, making sure only supported variables are used
func NewAccuracy(exprStr string) (*Accuracy, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, functions)
	if err != nil {
		return nil, err
	}
	for _, v := range expr.Vars() {
		if !isSupportedVar(v) {
			return nil, fmt.Errorf("unsupported variable %q", v)
		}
	}
	return &Accuracy{expr: expr}, nil
}

// Evaluate computes accuracy over samples in h
func (a *Accuracy) Evaluate(h *History) (float64, error) {
	res, err := a.expr.Evaluate(h.vars())
	if err != nil {
		return 0, err
	}
	v, ok := res.(float64)
	if !ok {
		return 0, fmt.Errorf("expression returned %T, not a number", res)
	}
	return v, nil
}
