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
	"fmt"

	"github.com/grailbio/hts/sam"
)

// Deamination damage manifests as C->T substitutions concentrated near the
// 5' end of a fragment, and (read on the forward reference strand) as G->A
// substitutions near the 3' end.  A Profile accumulates, for each distance
// bucket d in [0, Wlen), the number of substitutions and the number of
// opportunities (reference C or G aligned within the window) observed at
// that distance from the corresponding fragment end.
//
// BAM stores every read in forward-reference orientation, so the mapping
// between read coordinates and fragment ends flips for reverse-strand
// alignments:
//
//   forward read:  fragment 5' = leftmost base,  C->T left / G->A right
//   reverse read:  fragment 5' = rightmost base, G->A right / C->T left
//                  (the fragment's own C->T appears complemented)

// EndCounts holds per-distance substitution and opportunity counts for one
// fragment end.  Invariant: len(Subs) == len(Opps) == Wlen, all counts
// non-negative, Subs[d] <= Opps[d].
type EndCounts struct {
	Subs []int64
	Opps []int64
}

func newEndCounts(wlen int) EndCounts {
	return EndCounts{
		Subs: make([]int64, wlen),
		Opps: make([]int64, wlen),
	}
}

// TotalOpps returns the total opportunity count across all buckets.
func (e *EndCounts) TotalOpps() (n int64) {
	for _, v := range e.Opps {
		n += v
	}
	return
}

// TotalSubs returns the total substitution count across all buckets.
func (e *EndCounts) TotalSubs() (n int64) {
	for _, v := range e.Subs {
		n += v
	}
	return
}

// Profile is the per-reference positional substitution profile consumed by
// Fit.  It is built once per reference and is not safe for concurrent
// mutation.
type Profile struct {
	// Ref is the reference (contig) name, or "all_references" in grouped
	// mode.
	Ref string
	// RefLen is the reference length in bases (summed in grouped mode).
	RefLen int
	// Wlen is the window length the profile was built with.
	Wlen int
	// NReads counts reads that contributed at least one opportunity.
	NReads int64
	// AlignedBases counts reference-aligned bases of contributing reads;
	// AlignedBases / RefLen is the mean coverage estimate.
	AlignedBases int64
	// P5 is the fragment-5' C->T profile, the primary damage signal.
	P5 EndCounts
	// P3 is the fragment-3' G->A profile, kept as a corroborating
	// diagnostic.
	P3 EndCounts
}

// NewProfile returns an empty profile for one reference.
func NewProfile(ref string, refLen, wlen int) *Profile {
	return &Profile{
		Ref:    ref,
		RefLen: refLen,
		Wlen:   wlen,
		P5:     newEndCounts(wlen),
		P3:     newEndCounts(wlen),
	}
}

// baseUp maps ASCII a/c/g/t to their uppercase forms; other bytes pass
// through.
func baseUp(b byte) byte {
	if 'a' <= b && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// Add accumulates one aligned read into the profile.  refSeq is the full
// forward-strand reference sequence the read is mapped to.  In paired mode,
// read 1 contributes only fragment-5' buckets and read 2 only fragment-3'
// buckets, since the mate covers the other end of the fragment; single-end
// reads contribute both.
//
// Reads that walk off either sequence are rejected with an error and leave
// the profile unchanged; the caller is expected to warn and continue.
func (p *Profile) Add(samr *sam.Record, refSeq string, paired bool) error {
	if samr.Ref == nil {
		return fmt.Errorf("profile.Add: read %s has no reference", samr.Name)
	}
	seq := samr.Seq.Expand()
	readLen := len(seq)
	if readLen == 0 {
		return fmt.Errorf("profile.Add: read %s has no sequence", samr.Name)
	}
	span, readSpan := samr.Cigar.Lengths()
	if readSpan != readLen {
		return fmt.Errorf("profile.Add: read %s: CIGAR consumes %d read bases but the sequence holds %d",
			samr.Name, readSpan, readLen)
	}
	if samr.Pos < 0 || samr.Pos+span > len(refSeq) {
		return fmt.Errorf("profile.Add: read %s maps to [%d,%d) outside reference %s (len %d)",
			samr.Name, samr.Pos, samr.Pos+span, p.Ref, len(refSeq))
	}

	rev := samr.Flags&sam.Reverse != 0
	use5, use3 := true, true
	if paired {
		use5 = samr.Flags&sam.Read2 == 0
		use3 = samr.Flags&sam.Read1 == 0
	}

	var nOpp int
	var nAligned int64
	posInRead, posInRef := 0, samr.Pos
	for _, co := range samr.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			// Both spans were validated above, so the walk cannot run off
			// either sequence and a rejected read never touches a bucket.
			for i := 0; i < n; i++ {
				readBase := baseUp(seq[posInRead+i])
				refBase := baseUp(refSeq[posInRef+i])
				distLeft := posInRead + i
				distRight := readLen - 1 - (posInRead + i)
				nOpp += p.addBase(readBase, refBase, distLeft, distRight, rev, use5, use3)
			}
			nAligned += int64(n)
			posInRead += n
			posInRef += n
		case sam.CigarInsertion, sam.CigarSoftClipped:
			posInRead += n
		case sam.CigarDeletion, sam.CigarSkipped:
			posInRef += n
		default:
			// Hard clips and padding consume neither sequence.
		}
	}
	if nOpp > 0 {
		p.NReads++
		p.AlignedBases += nAligned
	}
	return nil
}

// addBase classifies a single aligned base and increments the relevant
// buckets.  Returns the number of opportunities recorded (0, 1 or 2: a base
// can be within the window of both ends of a short read).
func (p *Profile) addBase(readBase, refBase byte, distLeft, distRight int, rev, use5, use3 bool) (nOpp int) {
	// Fragment-end distances in read coordinates.
	dist5, dist3 := distLeft, distRight
	if rev {
		dist5, dist3 = distRight, distLeft
	}
	// The 5' signal is C->T on the fragment strand; for a reverse alignment
	// that is reference G, read A.  The 3' signal is the mirror image.
	base5, sub5 := byte('C'), byte('T')
	base3, sub3 := byte('G'), byte('A')
	if rev {
		base5, sub5 = 'G', 'A'
		base3, sub3 = 'C', 'T'
	}
	if use5 && dist5 < p.Wlen && refBase == base5 {
		p.P5.Opps[dist5]++
		if readBase == sub5 {
			p.P5.Subs[dist5]++
		}
		nOpp++
	}
	if use3 && dist3 < p.Wlen && refBase == base3 {
		p.P3.Opps[dist3]++
		if readBase == sub3 {
			p.P3.Subs[dist3]++
		}
		nOpp++
	}
	return
}

// Merge adds the counts of other into p.  Both profiles must share the same
// window length.  Used by grouped mode to collapse per-reference profiles.
func (p *Profile) Merge(other *Profile) error {
	if p.Wlen != other.Wlen {
		return fmt.Errorf("profile.Merge: window length mismatch (%d vs %d)", p.Wlen, other.Wlen)
	}
	for d := 0; d < p.Wlen; d++ {
		p.P5.Subs[d] += other.P5.Subs[d]
		p.P5.Opps[d] += other.P5.Opps[d]
		p.P3.Subs[d] += other.P3.Subs[d]
		p.P3.Opps[d] += other.P3.Opps[d]
	}
	p.NReads += other.NReads
	p.AlignedBases += other.AlignedBases
	return nil
}

// Coverage returns the mean read depth over the reference.
func (p *Profile) Coverage() float64 {
	if p.RefLen == 0 {
		return 0
	}
	return float64(p.AlignedBases) / float64(p.RefLen)
}
