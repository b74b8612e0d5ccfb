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
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bio-damage/damage"
)

var (
	wlen         = flag.Int("wlen", damage.DefaultOpts.WindowLength, "Window length: bases from each read end contributing to the damage profiles")
	processes    = flag.Int("processes", damage.DefaultOpts.Processes, "Maximum number of references fitted concurrently; 0 = runtime.NumCPU()")
	group        = flag.Bool("group", damage.DefaultOpts.Group, "Merge all references into one unit before fitting, instead of fitting each independently")
	mapq         = flag.Int("mapq", damage.DefaultOpts.Mapq, "Reads with MAPQ below this level are skipped")
	flagExclude  = flag.Int("flag-exclude", damage.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	minOpps      = flag.Int64("min-opportunities", damage.DefaultOpts.MinOpportunities, "References with fewer 5' C opportunities than this are excluded from the table")
	model        = flag.String("model", damage.DefaultOpts.Model, "Decay family; 'geometric' and 'exponential' supported")
	showAl       = flag.Bool("show-alignments", damage.DefaultOpts.ShowAlignments, "Log a few read-versus-reference alignment renderings per reference")
	plotDir      = flag.String("plotdir", "", "If nonempty, write per-reference observed-versus-fitted profile TSVs here")
	decimals     = flag.Int("decimals", damage.DefaultOpts.Decimals, "Round numeric output columns to this many decimal places; negative = no rounding")
	outPath      = flag.String("out", "bio-damage.tsv", "Output TSV path")
	bamIndexPath = flag.String("index", "", "Input BAM index path. Defaults to bampath + .bai")
)

func bioDamageUsage() {
	fmt.Printf("Usage: %s [OPTIONS] {b,p}ampath fapath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioDamageUsage
	shutdown := grail.Init()
	defer shutdown()

	positionalArgs := flag.Args()
	if len(positionalArgs) != 2 {
		log.Fatalf("Expected exactly two positional arguments ({b,p}ampath and fapath); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
	}
	ctx := vcontext.Background()
	opts := damage.Opts{
		WindowLength:     *wlen,
		Processes:        *processes,
		Group:            *group,
		Mapq:             *mapq,
		FlagExclude:      *flagExclude,
		MinOpportunities: *minOpps,
		Model:            *model,
		ShowAlignments:   *showAl,
		PlotDir:          *plotDir,
		Decimals:         *decimals,
		BamIndexPath:     *bamIndexPath,
	}
	tbl, err := damage.Analyze(ctx, positionalArgs[0], positionalArgs[1], &opts)
	if err != nil {
		log.Fatalf("bio-damage: %v", err)
	}
	if err := damage.WriteTSV(ctx, tbl, *outPath, opts.Decimals); err != nil {
		log.Fatalf("bio-damage: writing %s: %v", *outPath, err)
	}
	log.Printf("bio-damage: wrote %d row(s) to %s", len(tbl.Rows), *outPath)
}
