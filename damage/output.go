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
	"context"
	"math"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// resultHeader is the fixed output schema: the row-builder columns followed
// by the predicted-accuracy column.
var resultHeader = []string{
	"reference",
	"reflen",
	"nreads",
	"coverage",
	"subs_5p",
	"opps_5p",
	"subs_3p",
	"opps_3p",
	"model",
	"amplitude_5p",
	"decay_5p",
	"amplitude_3p",
	"decay_3p",
	"null_rate",
	"loglik",
	"loglik_null",
	"lr_stat",
	"pvalue",
	"predicted_accuracy",
	"converged",
}

// formatFloat renders a numeric column, rounding to decimals places when
// decimals >= 0.  NaN (the missing-value sentinel) renders as "NA".
func formatFloat(v float64, decimals int) string {
	if math.IsNaN(v) {
		return "NA"
	}
	if decimals >= 0 {
		return strconv.FormatFloat(v, 'f', decimals, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// buildRow maps one FitResult into the output schema.  Pure transformation;
// it must stay in lockstep with resultHeader.
func buildRow(r *FitResult, decimals int) []string {
	return []string{
		r.Reference,
		strconv.Itoa(r.RefLen),
		strconv.FormatInt(r.NReads, 10),
		formatFloat(r.Coverage, decimals),
		strconv.FormatInt(r.Subs5, 10),
		strconv.FormatInt(r.Opps5, 10),
		strconv.FormatInt(r.Subs3, 10),
		strconv.FormatInt(r.Opps3, 10),
		r.Model,
		formatFloat(r.Amplitude5, decimals),
		formatFloat(r.Decay5, decimals),
		formatFloat(r.Amplitude3, decimals),
		formatFloat(r.Decay3, decimals),
		formatFloat(r.NullRate, decimals),
		formatFloat(r.LogLik, decimals),
		formatFloat(r.LogLikNull, decimals),
		formatFloat(r.LRStat, decimals),
		formatFloat(r.PValue, decimals),
		formatFloat(r.PredictedAccuracy, decimals),
		strconv.FormatBool(r.Converged),
	}
}

// WriteTSV serializes the result table, one row per analyzed reference.  An
// empty table still produces the header line.
func WriteTSV(ctx context.Context, tbl *ResultTable, path string, decimals int) (err error) {
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	tsvw := tsv.NewWriter(out.Writer(ctx))
	for _, col := range resultHeader {
		tsvw.WriteString(col)
	}
	if err = tsvw.EndLine(); err != nil {
		return
	}
	for _, r := range tbl.Rows {
		for _, col := range buildRow(r, decimals) {
			tsvw.WriteString(col)
		}
		if err = tsvw.EndLine(); err != nil {
			return
		}
	}
	return
}
