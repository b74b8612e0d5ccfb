package damage

import "github.com/grailbio/bio-damage/damage/accuracy"

// Opts contains the analysis parameters.  Zero values fall back to
// DefaultOpts in Analyze.
type Opts struct {
	// WindowLength is the number of bases from each read end that contribute
	// to the positional substitution profiles.  Positions at distance >=
	// WindowLength are never counted.
	WindowLength int
	// Processes caps the number of references fitted concurrently.  The
	// effective worker count is min(Processes, number of references);
	// 0 means runtime.NumCPU().
	Processes int
	// Group collapses all references into a single merged unit, fitted
	// synchronously and reported under the name "all_references".
	Group bool
	// Mapq is the minimum mapping quality; reads below it are skipped.
	Mapq int
	// FlagExclude skips reads whose FLAG intersects this bitmask.  The
	// default excludes secondary, QC-fail, duplicate and supplementary
	// alignments.
	FlagExclude int
	// MinOpportunities is the minimum number of 5' C opportunities a
	// reference must accumulate before a fit is attempted.  References below
	// it are excluded from the result table rather than given an unreliable
	// significance call.
	MinOpportunities int64
	// Model selects the decay family: "geometric" (default) or
	// "exponential".
	Model string
	// ShowAlignments renders a handful of read-versus-reference alignments
	// per reference through the log, as a debugging aid.
	ShowAlignments bool
	// PlotDir, if nonempty, receives one observed-versus-fitted profile TSV
	// per analyzed reference.  Failures here are logged and do not affect
	// the result table.
	PlotDir string
	// Decimals rounds numeric output columns to this many decimal places.
	// Negative means no rounding.  Applied at serialization time only.
	Decimals int
	// BamIndexPath overrides the BAM index location (default: bampath +
	// ".bai").
	BamIndexPath string
	// AccuracyParams overrides the shipped GLM coefficient set.  nil means
	// accuracy.DefaultParams.
	AccuracyParams *accuracy.Params
}

// DefaultOpts sets the default values for Opts.
var DefaultOpts = Opts{
	WindowLength:     30,
	Processes:        0,
	Group:            false,
	Mapq:             30,
	FlagExclude:      0xf00,
	MinOpportunities: 50,
	Model:            "geometric",
	ShowAlignments:   false,
	Decimals:         2,
}
