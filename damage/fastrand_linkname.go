package damage

import (
	"math/rand"

	_ "unsafe" // for go:linkname
)

// github.com/grailbio/hts/sam declares `//go:linkname fastrand sync.fastrand`
// for its randomized free pool, but the sync.fastrand runtime symbol was
// removed from the standard library (Go >= 1.19 keeps only sync.fastrandn),
// so binaries importing hts/sam fail to link. Define the symbol here so the
// linker can resolve it; hts only uses it to pick a random pool shard.
//
//go:linkname syncFastrand sync.fastrand
func syncFastrand() uint32 { return rand.Uint32() }
