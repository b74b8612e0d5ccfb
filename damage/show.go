package damage

import (
	"fmt"
	"strings"

	"github.com/grailbio/hts/sam"
)

// showAlignmentsPerRef caps how many reads are rendered per reference when
// -show-alignments is set.
const showAlignmentsPerRef = 8

// AlignmentRenderer formats read-versus-reference alignments near the read
// start, as a debugging side channel.  Matching read bases are rendered as
// '.' so substitutions stand out.  The fitter calls it at most once per
// reference; it plays no part in the statistical contract.
type AlignmentRenderer struct {
	wlen int
	max  int
	n    int
	b    strings.Builder
}

// NewAlignmentRenderer returns a renderer showing at most maxReads reads,
// wlen aligned columns each.
func NewAlignmentRenderer(wlen, maxReads int) *AlignmentRenderer {
	return &AlignmentRenderer{wlen: wlen, max: maxReads}
}

// Len returns the number of reads rendered so far.
func (r *AlignmentRenderer) Len() int { return r.n }

// String returns the rendering accumulated so far.
func (r *AlignmentRenderer) String() string { return r.b.String() }

// Add renders one read if the per-reference cap has not been reached.
func (r *AlignmentRenderer) Add(samr *sam.Record, refSeq string) {
	if r.n >= r.max {
		return
	}
	seq := samr.Seq.Expand()
	refBuf := make([]byte, 0, r.wlen)
	readBuf := make([]byte, 0, r.wlen)
	posInRead, posInRef := 0, samr.Pos
	for _, co := range samr.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n && len(refBuf) < r.wlen; i++ {
				if posInRead+i >= len(seq) || posInRef+i >= len(refSeq) {
					break
				}
				refBase := baseUp(refSeq[posInRef+i])
				readBase := baseUp(seq[posInRead+i])
				refBuf = append(refBuf, refBase)
				if readBase == refBase {
					readBuf = append(readBuf, '.')
				} else {
					readBuf = append(readBuf, readBase)
				}
			}
			posInRead += n
			posInRef += n
		case sam.CigarInsertion, sam.CigarSoftClipped:
			posInRead += n
		case sam.CigarDeletion, sam.CigarSkipped:
			posInRef += n
		}
		if len(refBuf) >= r.wlen {
			break
		}
	}
	if len(refBuf) == 0 {
		return
	}
	strand := byte('+')
	if samr.Flags&sam.Reverse != 0 {
		strand = '-'
	}
	fmt.Fprintf(&r.b, "  %s\n  %s  (%s %c)\n", refBuf, readBuf, samr.Name, strand)
	r.n++
}
