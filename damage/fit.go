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
package damage

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInsufficientData reports that a reference accumulated too few
// informative positions for a trustworthy fit.  References hitting it are
// excluded from the result table, not given a spurious significance call.
var ErrInsufficientData = errors.New("insufficient informative positions")

// A DecayModel is a two-parameter family describing how the substitution
// frequency falls off with distance from a fragment end.  theta[0] is the
// initial damage intensity (the rate at distance 0) and theta[1] is the
// decay rate; both are constrained non-negative by the raw-parameter
// transform, so the optimizer can never propose a fit in which damage grows
// with distance.
//
// Keeping the family at exactly two free parameters makes the likelihood
// ratio against the one-parameter uniform null asymptotically chi-squared
// with one degree of freedom.
type DecayModel interface {
	// Name identifies the family in output and flags.
	Name() string
	// Rate returns the modeled substitution frequency at distance d.
	Rate(d int, theta []float64) float64
	// FromRaw maps an unconstrained optimizer vector to model parameters.
	FromRaw(raw []float64) []float64
	// ToRaw inverts FromRaw for use as an optimizer starting point.
	ToRaw(theta []float64) []float64
}

// GeometricModel is rate(d) = A * (1-lambda)^d with A, lambda in (0,1).
// This is the default family.
type GeometricModel struct{}

// Name implements DecayModel.
func (GeometricModel) Name() string { return "geometric" }

// Rate implements DecayModel.
func (GeometricModel) Rate(d int, theta []float64) float64 {
	return theta[0] * math.Pow(1-theta[1], float64(d))
}

// FromRaw implements DecayModel.
func (GeometricModel) FromRaw(raw []float64) []float64 {
	return []float64{sigmoid(raw[0]), sigmoid(raw[1])}
}

// ToRaw implements DecayModel.
func (GeometricModel) ToRaw(theta []float64) []float64 {
	return []float64{logit(theta[0]), logit(theta[1])}
}

// ExponentialModel is rate(d) = A * exp(-lambda*d) with A in (0,1) and
// lambda >= 0.
type ExponentialModel struct{}

// Name implements DecayModel.
func (ExponentialModel) Name() string { return "exponential" }

// Rate implements DecayModel.
func (ExponentialModel) Rate(d int, theta []float64) float64 {
	return theta[0] * math.Exp(-theta[1]*float64(d))
}

// FromRaw implements DecayModel.
func (ExponentialModel) FromRaw(raw []float64) []float64 {
	return []float64{sigmoid(raw[0]), math.Exp(raw[1])}
}

// ToRaw implements DecayModel.
func (ExponentialModel) ToRaw(theta []float64) []float64 {
	lam := theta[1]
	if lam < 1e-9 {
		lam = 1e-9
	}
	return []float64{logit(theta[0]), math.Log(lam)}
}

// ModelByName maps a -model flag value to a DecayModel.  The empty string
// selects the default (geometric) family.
func ModelByName(name string) (DecayModel, error) {
	switch name {
	case "", "geometric":
		return GeometricModel{}, nil
	case "exponential":
		return ExponentialModel{}, nil
	}
	return nil, fmt.Errorf("damage.ModelByName: unrecognized model family %q", name)
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 {
	const eps = 1e-9
	if p < eps {
		p = eps
	} else if p > 1-eps {
		p = 1 - eps
	}
	return math.Log(p / (1 - p))
}

// clampRate keeps a modeled rate strictly inside (0,1) for likelihood
// evaluation.  This guards the log terms only; the fitted parameters
// themselves are reported untouched.
func clampRate(r float64) float64 {
	const eps = 1e-9
	if !(r > eps) { // also catches NaN
		return eps
	}
	if r > 1-eps {
		return 1 - eps
	}
	return r
}

// logLik is the binomial log-likelihood of the per-bucket counts under the
// modeled rates: sum_d [ k_d*ln(r_d) + (n_d-k_d)*ln(1-r_d) ], dropping the
// data-only binomial coefficients (they cancel in likelihood ratios).
func logLik(model DecayModel, ec *EndCounts, theta []float64) float64 {
	var ll float64
	for d, n := range ec.Opps {
		if n == 0 {
			continue
		}
		k := ec.Subs[d]
		r := clampRate(model.Rate(d, theta))
		ll += float64(k)*math.Log(r) + float64(n-k)*math.Log(1-r)
	}
	return ll
}

// uniformLogLik evaluates the null model (one position-independent rate) at
// its closed-form MLE k/n, returning both the rate and the log-likelihood.
func uniformLogLik(ec *EndCounts) (rate, ll float64) {
	n := ec.TotalOpps()
	k := ec.TotalSubs()
	if n == 0 {
		return 0, 0
	}
	rate = float64(k) / float64(n)
	r := clampRate(rate)
	ll = float64(k)*math.Log(r) + float64(n-k)*math.Log(1-r)
	return
}

var (
	gridAmplitude = []float64{0.001, 0.005, 0.01, 0.03, 0.05, 0.1, 0.2, 0.3, 0.5}
	gridDecay     = []float64{1e-6, 0.001, 0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 0.8}
)

// fitEnd maximizes the binomial likelihood of one end profile under the
// given family.  A coarse grid provides the starting point and a floor for
// the result, so a degenerate likelihood surface still returns the grid
// optimum (with converged=false) instead of garbage.
func fitEnd(model DecayModel, ec *EndCounts) (theta []float64, ll float64, converged bool) {
	ll = math.Inf(-1)
	for _, a := range gridAmplitude {
		for _, lam := range gridDecay {
			cand := []float64{a, lam}
			if v := logLik(model, ec, cand); v > ll {
				ll = v
				theta = cand
			}
		}
	}
	if math.IsInf(ll, -1) {
		return nil, ll, false
	}

	problem := optimize.Problem{
		Func: func(raw []float64) float64 {
			return -logLik(model, ec, model.FromRaw(raw))
		},
	}
	result, err := optimize.Minimize(problem, model.ToRaw(theta), nil, &optimize.NelderMead{})
	if err != nil || result == nil {
		return theta, ll, false
	}
	if refined := model.FromRaw(result.X); -result.F > ll {
		theta = refined
		ll = -result.F
	}
	return theta, ll, true
}

// Fit fits the decay family to a reference profile and tests it against the
// uniform null.  It returns ErrInsufficientData (wrapped) when the profile
// holds no informative reads or fewer 5' opportunities than minOpps, and a
// plain error when the likelihood surface is degenerate; both cases exclude
// the reference from the result table.
func Fit(prof *Profile, model DecayModel, minOpps int64) (*FitResult, error) {
	opps5 := prof.P5.TotalOpps()
	if prof.NReads == 0 {
		return nil, fmt.Errorf("reference %s: no informative reads: %w", prof.Ref, ErrInsufficientData)
	}
	if opps5 < minOpps {
		return nil, fmt.Errorf("reference %s: %d of %d required 5' opportunities: %w",
			prof.Ref, opps5, minOpps, ErrInsufficientData)
	}

	theta5, ll5, conv5 := fitEnd(model, &prof.P5)
	if theta5 == nil {
		return nil, fmt.Errorf("damage.Fit: reference %s: degenerate likelihood surface", prof.Ref)
	}
	nullRate, llNull := uniformLogLik(&prof.P5)

	lr := 2 * (ll5 - llNull)
	if lr < 0 {
		// The alternative nests the null, so this can only be optimizer
		// shortfall; treat as no evidence.
		lr = 0
	}
	pval := distuv.ChiSquared{K: 1}.Survival(lr)

	res := &FitResult{
		Reference:         prof.Ref,
		RefLen:            prof.RefLen,
		NReads:            prof.NReads,
		Coverage:          prof.Coverage(),
		Model:             model.Name(),
		Amplitude5:        theta5[0],
		Decay5:            theta5[1],
		Amplitude3:        math.NaN(),
		Decay3:            math.NaN(),
		NullRate:          nullRate,
		LogLik:            ll5,
		LogLikNull:        llNull,
		LRStat:            lr,
		PValue:            pval,
		Opps5:             opps5,
		Subs5:             prof.P5.TotalSubs(),
		Opps3:             prof.P3.TotalOpps(),
		Subs3:             prof.P3.TotalSubs(),
		Converged:         conv5,
		PredictedAccuracy: math.NaN(),
		Profile:           prof,
	}
	if res.Opps3 > 0 {
		if theta3, _, _ := fitEnd(model, &prof.P3); theta3 != nil {
			res.Amplitude3 = theta3[0]
			res.Decay3 = theta3[1]
		}
	}
	return res, nil
}
