package damage

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// WritePlotData emits the observed and fitted per-distance substitution
// rates for one result as <dir>/<reference>.damage.tsv, the input an
// external plot renderer consumes.  Failures here never affect the result
// table; the caller logs and moves on.
func WritePlotData(ctx context.Context, res *FitResult, model DecayModel, dir string) (err error) {
	prof := res.Profile
	if prof == nil {
		return fmt.Errorf("damage.WritePlotData: %s has no retained profile", res.Reference)
	}
	var out file.File
	if out, err = file.Create(ctx, filepath.Join(dir, sanitizeRefName(res.Reference)+".damage.tsv")); err != nil {
		return
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	tsvw := tsv.NewWriter(out.Writer(ctx))
	for _, col := range []string{"end", "distance", "substitutions", "opportunities", "observed_rate", "fitted_rate"} {
		tsvw.WriteString(col)
	}
	if err = tsvw.EndLine(); err != nil {
		return
	}
	writeEnd := func(label string, ec *EndCounts, theta []float64) error {
		for d := 0; d < prof.Wlen; d++ {
			observed := 0.0
			if ec.Opps[d] > 0 {
				observed = float64(ec.Subs[d]) / float64(ec.Opps[d])
			}
			tsvw.WriteString(label)
			tsvw.WriteInt64(int64(d))
			tsvw.WriteInt64(ec.Subs[d])
			tsvw.WriteInt64(ec.Opps[d])
			tsvw.WriteString(strconv.FormatFloat(observed, 'g', 6, 64))
			tsvw.WriteString(strconv.FormatFloat(model.Rate(d, theta), 'g', 6, 64))
			if e := tsvw.EndLine(); e != nil {
				return e
			}
		}
		return nil
	}
	if err = writeEnd("5p", &prof.P5, []float64{res.Amplitude5, res.Decay5}); err != nil {
		return
	}
	if res.Opps3 > 0 {
		err = writeEnd("3p", &prof.P3, []float64{res.Amplitude3, res.Decay3})
	}
	return
}

// sanitizeRefName makes a reference name safe to use as a file name.
func sanitizeRefName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}
