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
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bio-damage/damage/accuracy"
	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/bio/encoding/fasta"
	"github.com/grailbio/hts/sam"
)

// GroupName is the pseudo-reference name used in grouped mode.
const GroupName = "all_references"

// modeDetectReads caps how many records are peeked at to classify the
// library as single- or paired-end.
const modeDetectReads = 1000

// Analysis outline:
//
//   references          fitter workers           predictor
//   ----------          --------------           ---------
//   dispatcher --task--> worker (own iterator,   runs once over the
//   goroutine   chan     own profile, own fit)   collected, canonically
//                        --result chan-->        ordered table
//
// References share no mutable state; each worker opens its own read-only
// per-reference iterator against the (thread-safe) provider, so references
// are embarrassingly parallel.  A failure inside one reference's fit is
// logged and skipped without disturbing siblings.  The accuracy predictor
// only starts once every fit result has been collected.

// Analyze runs the damage analysis over an alignment file.  xampath is a
// BAM/PAM, fapath the FASTA of the references it was aligned to.  It
// returns one row per reference with usable data; an entirely empty result
// is a warning, not an error.
func Analyze(ctx context.Context, xampath, fapath string, rawOpts *Opts) (tbl *ResultTable, err error) {
	provider := bamprovider.NewProvider(xampath, bamprovider.ProviderOpts{Index: rawOpts.BamIndexPath})
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	var header *sam.Header
	if header, err = provider.GetHeader(); err != nil {
		return nil, err
	}
	var refSeqs map[string]string
	if refSeqs, err = loadRefSeqs(ctx, fapath, header.Refs()); err != nil {
		return nil, err
	}
	return AnalyzeProvider(ctx, provider, refSeqs, rawOpts)
}

// AnalyzeProvider is Analyze with the alignment source and reference
// sequences injected; tests use it with a fake provider.  refSeqs maps
// reference name to its (uppercase) forward-strand sequence; references
// missing from the map are skipped with a warning.
func AnalyzeProvider(ctx context.Context, provider bamprovider.Provider, refSeqs map[string]string, rawOpts *Opts) (*ResultTable, error) {
	opts := *rawOpts
	if opts.WindowLength <= 0 {
		opts.WindowLength = DefaultOpts.WindowLength
	}
	if opts.Processes <= 0 {
		opts.Processes = runtime.NumCPU()
	}
	model, err := ModelByName(opts.Model)
	if err != nil {
		return nil, err
	}
	header, err := provider.GetHeader()
	if err != nil {
		return nil, err
	}
	refs := header.Refs()
	paired, err := detectPaired(provider, header)
	if err != nil {
		return nil, err
	}
	mode := "single"
	if paired {
		mode = "paired"
	}
	log.Printf("damage: %d reference(s), %s-end mode, %s model", len(refs), mode, model.Name())

	var rows []*FitResult
	if opts.Group {
		res, e := fitGroup(provider, refs, refSeqs, paired, model, &opts)
		switch {
		case e == nil:
			rows = append(rows, res)
		case errors.Is(e, ErrInsufficientData):
			log.Printf("damage: skipping group: %v", e)
		default:
			log.Error.Printf("damage: group fit failed: %v", e)
		}
	} else if len(refs) > 0 {
		tasks := make(chan int)
		go func() {
			for i := range refs {
				tasks <- i
			}
			close(tasks)
		}()
		results := make(chan *FitResult, len(refs))
		workers := minInt(opts.Processes, len(refs))
		// Workers never return an error: every per-reference failure is
		// logged and skipped so one bad reference cannot abort its
		// siblings.
		_ = traverse.Each(workers, func(_ int) error {
			for refIdx := range tasks {
				ref := refs[refIdx]
				refSeq, ok := refSeqs[ref.Name()]
				if !ok {
					log.Printf("damage: skipping %s: no reference sequence", ref.Name())
					continue
				}
				res, e := fitReference(provider, ref, refSeq, paired, model, &opts)
				switch {
				case e == nil:
					results <- res
				case errors.Is(e, ErrInsufficientData):
					log.Printf("damage: skipping %s: %v", ref.Name(), e)
				default:
					log.Error.Printf("damage: skipping %s: %v", ref.Name(), e)
				}
			}
			return nil
		})
		close(results)
		for res := range results {
			rows = append(rows, res)
		}
	}

	tbl := &ResultTable{Rows: rows}
	tbl.Sort()
	if len(rows) == 0 {
		log.Error.Printf("damage: no reference produced usable alignments; check your alignment file (emitting an empty table)")
		return tbl, nil
	}
	log.Printf("damage: %d reference(s) successfully analyzed", len(rows))
	for _, r := range rows {
		if !r.Converged {
			log.Error.Printf("damage: %s: optimizer did not converge; reporting grid-seed parameters", r.Reference)
		}
	}

	params := accuracy.DefaultParams
	if opts.AccuracyParams != nil {
		params = *opts.AccuracyParams
	}
	accRows := make([]accuracy.Row, len(rows))
	for i, r := range rows {
		accRows[i] = accuracy.Row{
			Reference: r.Reference,
			RefLen:    float64(r.RefLen),
			Coverage:  r.Coverage,
			NReads:    float64(r.NReads),
			Amplitude: r.Amplitude5,
			PValue:    r.PValue,
		}
	}
	probs := accuracy.NewPredictor(params).Predict(accRows)
	if len(probs) != len(rows) {
		// Logic defect, not a data condition.
		return nil, fmt.Errorf("damage.AnalyzeProvider: internal consistency: %d accuracy rows for %d fit rows",
			len(probs), len(rows))
	}
	for i := range rows {
		rows[i].PredictedAccuracy = probs[i]
	}

	if opts.PlotDir != "" {
		for _, r := range rows {
			if e := WritePlotData(ctx, r, model, opts.PlotDir); e != nil {
				log.Error.Printf("damage: plot data for %s: %v", r.Reference, e)
			}
		}
	}
	return tbl, nil
}

// fitReference runs the fitter for a single reference.  Panics inside the
// fit are converted to errors so one reference cannot take down the worker
// pool.
func fitReference(provider bamprovider.Provider, ref *sam.Reference, refSeq string, paired bool, model DecayModel, opts *Opts) (res *FitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("damage: panic fitting reference %s: %v", ref.Name(), r)
		}
	}()
	prof := NewProfile(ref.Name(), ref.Len(), opts.WindowLength)
	var show *AlignmentRenderer
	if opts.ShowAlignments {
		show = NewAlignmentRenderer(opts.WindowLength, showAlignmentsPerRef)
	}
	if err = accumulate(provider, ref, refSeq, paired, prof, show, opts); err != nil {
		return nil, err
	}
	if show != nil && show.Len() > 0 {
		log.Printf("damage: alignments for %s:\n%s", ref.Name(), show.String())
	}
	return Fit(prof, model, opts.MinOpportunities)
}

// accumulate streams one reference's reads into prof.  Malformed records
// are skipped with a warning, not fatal.
func accumulate(provider bamprovider.Provider, ref *sam.Reference, refSeq string, paired bool, prof *Profile, show *AlignmentRenderer, opts *Opts) (err error) {
	iter := provider.NewIterator(gbam.Shard{
		StartRef: ref,
		EndRef:   ref,
		Start:    0,
		End:      ref.Len(),
	})
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	for iter.Scan() {
		samr := iter.Record()
		if usable(samr, opts) {
			if e := prof.Add(samr, refSeq, paired); e != nil {
				log.Error.Printf("damage: %s: skipping read: %v", prof.Ref, e)
			} else if show != nil {
				show.Add(samr, refSeq)
			}
		}
		sam.PutInFreePool(samr)
	}
	return
}

// fitGroup collapses every reference into a single synthetic unit and fits
// it synchronously, bypassing the worker fan-out.
func fitGroup(provider bamprovider.Provider, refs []*sam.Reference, refSeqs map[string]string, paired bool, model DecayModel, opts *Opts) (*FitResult, error) {
	totalLen := 0
	for _, ref := range refs {
		if _, ok := refSeqs[ref.Name()]; ok {
			totalLen += ref.Len()
		}
	}
	prof := NewProfile(GroupName, totalLen, opts.WindowLength)
	for _, ref := range refs {
		refSeq, ok := refSeqs[ref.Name()]
		if !ok {
			log.Printf("damage: skipping %s: no reference sequence", ref.Name())
			continue
		}
		if err := accumulate(provider, ref, refSeq, paired, prof, nil, opts); err != nil {
			return nil, err
		}
	}
	return Fit(prof, model, opts.MinOpportunities)
}

// usable applies the read-level quality filters.
func usable(samr *sam.Record, opts *Opts) bool {
	if samr.Flags&sam.Unmapped != 0 {
		return false
	}
	if int(samr.Flags)&opts.FlagExclude != 0 {
		return false
	}
	return int(samr.MapQ) >= opts.Mapq
}

// detectPaired peeks at the first records to classify the library, the same
// heuristic the original pydamage tool applies to the BAM.
func detectPaired(provider bamprovider.Provider, header *sam.Header) (paired bool, err error) {
	iter := provider.NewIterator(gbam.UniversalShard(header))
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	for n := 0; n < modeDetectReads && iter.Scan(); n++ {
		samr := iter.Record()
		if samr.Flags&sam.Paired != 0 {
			paired = true
		}
		sam.PutInFreePool(samr)
		if paired {
			return
		}
	}
	return
}

// loadRefSeqs reads the FASTA and returns uppercase sequences keyed by
// reference name, with length-consistency checks against the BAM/PAM
// header.
func loadRefSeqs(ctx context.Context, fapath string, headerRefs []*sam.Reference) (seqs map[string]string, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, fapath); err != nil {
		return
	}
	defer func() {
		if e := infile.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	var fa fasta.Fasta
	if fa, err = fasta.New(reader); err != nil {
		return
	}
	seqs = make(map[string]string, len(headerRefs))
	nMissing := 0
	for _, ref := range headerRefs {
		refName := ref.Name()
		faLen, e := fa.Len(refName)
		if e != nil {
			nMissing++
			continue
		}
		if faLen != uint64(ref.Len()) {
			return nil, fmt.Errorf("damage.loadRefSeqs: inconsistent lengths for %s (%d in header, %d in .fa)",
				refName, ref.Len(), faLen)
		}
		seq, e := fa.Get(refName, 0, faLen)
		if e != nil {
			return nil, e
		}
		seqs[refName] = strings.ToUpper(seq)
	}
	if nMissing != 0 {
		log.Printf("damage.loadRefSeqs: warning: %d reference(s) in the header but missing from the .fa", nMissing)
	}
	return seqs, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
