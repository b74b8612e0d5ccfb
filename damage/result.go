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

import "sort"

// FitResult is the outcome of fitting the decay model to one reference (or
// to the merged group).  It is immutable once Analyze has attached the
// predicted accuracy, and becomes one row of the result table.
type FitResult struct {
	// Reference is the contig name ("all_references" in grouped mode).
	Reference string
	RefLen    int
	// NReads counts reads that contributed at least one opportunity.
	NReads int64
	// Coverage is the mean depth of contributing reads over the reference.
	Coverage float64
	// Model names the decay family the parameters below belong to.
	Model string
	// Amplitude5 and Decay5 are the fitted 5' parameters, the primary
	// signal.  Amplitude5 is the modeled substitution rate at distance 0.
	Amplitude5 float64
	Decay5     float64
	// Amplitude3 and Decay3 are the corroborating 3' fit; NaN when the 3'
	// profile was empty.
	Amplitude3 float64
	Decay3     float64
	// NullRate is the closed-form MLE of the uniform null on the 5'
	// profile.
	NullRate   float64
	LogLik     float64
	LogLikNull float64
	// LRStat is 2*(LogLik - LogLikNull), floored at zero.
	LRStat float64
	// PValue is the chi-squared(1) tail probability of LRStat.  Always in
	// [0,1].
	PValue float64
	Opps5  int64
	Subs5  int64
	Opps3  int64
	Subs3  int64
	// Converged is false when the reported parameters come from the grid
	// seed because the optimizer failed.
	Converged bool
	// PredictedAccuracy is filled in by the accuracy predictor after all
	// fits complete; NaN marks a row whose features could not be derived.
	PredictedAccuracy float64
	// Profile retains the observed counts for plotting and diagnostics.
	Profile *Profile
}

// ResultTable is the ordered collection of per-reference rows.  Rows are
// keyed uniquely by Reference; references that produced no usable data never
// appear (they are skipped, not zero-filled).
type ResultTable struct {
	Rows []*FitResult
}

// Sort establishes the canonical row order (ascending reference name), so
// downstream output does not depend on worker completion order.
func (t *ResultTable) Sort() {
	sort.Slice(t.Rows, func(i, j int) bool {
		return t.Rows[i].Reference < t.Rows[j].Reference
	})
}
