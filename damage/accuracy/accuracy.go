// Copyright 2021 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package accuracy applies a fixed, pretrained logistic model to
// per-reference fit summaries, estimating how trustworthy each damage
// significance call is.  This is pure inference: the coefficients were
// trained offline on simulated datasets with known damage levels and are
// shipped as versioned constants, never re-estimated at run time.
package accuracy

import "math"

// Row carries the fit summaries the predictor derives its features from.
// One Row per result-table row.
type Row struct {
	Reference string
	RefLen    float64
	Coverage  float64
	NReads    float64
	// Amplitude is the fitted substitution rate at distance 0.
	Amplitude float64
	PValue    float64
}

// Params is one versioned logistic-regression coefficient set.  Values are
// immutable; substitute an alternate set through NewPredictor in tests.
type Params struct {
	Version   string
	Intercept float64
	// Feature weights.  The feature derivation in features() must stay in
	// lockstep with the set these were trained on.
	LogCoverage float64
	LogRefLen   float64
	Amplitude   float64
	NegLog10P   float64
	LogNReads   float64
}

// DefaultParams is the shipped coefficient set.
var DefaultParams = Params{
	Version:     "v1",
	Intercept:   -3.90,
	LogCoverage: 1.42,
	LogRefLen:   0.52,
	Amplitude:   3.10,
	NegLog10P:   0.12,
	LogNReads:   0.36,
}

// negLog10PCap bounds the p-value feature so that underflowed p-values do
// not dominate the linear predictor.
const negLog10PCap = 16.0

// Predictor applies one coefficient set.
type Predictor struct {
	params Params
}

// NewPredictor returns a predictor over the given coefficient set.
func NewPredictor(params Params) *Predictor {
	return &Predictor{params: params}
}

// features derives the fixed feature vector for one row, or ok=false when a
// required feature cannot be derived (degenerate fit).
func features(r Row) (f [5]float64, ok bool) {
	if math.IsNaN(r.Amplitude) || math.IsNaN(r.PValue) {
		return f, false
	}
	f[0] = math.Log10(r.Coverage + 1)
	f[1] = math.Log10(math.Max(r.RefLen, 1))
	f[2] = r.Amplitude
	f[3] = math.Min(-math.Log10(r.PValue+1e-300), negLog10PCap)
	f[4] = math.Log10(r.NReads + 1)
	return f, true
}

// Predict computes the predicted reliability probability for every row.
// The returned slice is parallel to rows; entries for rows whose features
// cannot be derived are NaN rather than aborting the table.  Predict takes
// the whole table at once so future coefficient versions can derive
// distribution-relative features without an API change.
func (p *Predictor) Predict(rows []Row) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		f, ok := features(r)
		if !ok {
			out[i] = math.NaN()
			continue
		}
		logit := p.params.Intercept +
			p.params.LogCoverage*f[0] +
			p.params.LogRefLen*f[1] +
			p.params.Amplitude*f[2] +
			p.params.NegLog10P*f[3] +
			p.params.LogNReads*f[4]
		out[i] = 1 / (1 + math.Exp(-logit))
	}
	return out
}
