package damage_test

import (
	"io/ioutil"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bio-damage/damage"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
)

func testTable() *damage.ResultTable {
	return &damage.ResultTable{
		Rows: []*damage.FitResult{
			{
				Reference:         "chr1",
				RefLen:            1000,
				NReads:            150,
				Coverage:          12.3456,
				Model:             "geometric",
				Amplitude5:        0.31234,
				Decay5:            0.25,
				Amplitude3:        math.NaN(),
				Decay3:            math.NaN(),
				NullRate:          0.0312,
				LogLik:            -812.5,
				LogLikNull:        -890.25,
				LRStat:            155.5,
				PValue:            1.1e-35,
				Opps5:             4000,
				Subs5:             125,
				Converged:         true,
				PredictedAccuracy: 0.87654,
			},
		},
	}
}

func TestWriteTSV(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	path := filepath.Join(tmpdir, "out.tsv")

	assert.NoError(t, damage.WriteTSV(ctx, testTable(), path, 2))
	body, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	assert.EQ(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "reference\treflen\tnreads\tcoverage"))
	assert.True(t, strings.HasSuffix(lines[0], "pvalue\tpredicted_accuracy\tconverged"))

	cols := strings.Split(lines[1], "\t")
	assert.EQ(t, len(cols), len(strings.Split(lines[0], "\t")))
	assert.EQ(t, cols[0], "chr1")
	assert.EQ(t, cols[1], "1000")
	assert.EQ(t, cols[2], "150")
	// Rounded to two decimals at serialization time.
	assert.EQ(t, cols[3], "12.35")
	// The empty 3' fit serializes as the missing-value sentinel.
	assert.EQ(t, cols[11], "NA")
	assert.EQ(t, cols[12], "NA")
	assert.EQ(t, cols[len(cols)-2], "0.88")
	// The non-convergence flag is part of the table, not just an in-memory
	// diagnostic.
	assert.EQ(t, cols[len(cols)-1], "true")
}

func TestWriteTSVNoRounding(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	path := filepath.Join(tmpdir, "out.tsv")

	assert.NoError(t, damage.WriteTSV(ctx, testTable(), path, -1))
	body, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "12.3456"))
	assert.True(t, strings.Contains(string(body), "1.1e-35"))
}

func TestWritePlotData(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	prof := damage.NewProfile("chr1/alt", 1000, 3)
	copy(prof.P5.Opps, []int64{100, 100, 100})
	copy(prof.P5.Subs, []int64{40, 12, 4})
	res := testTable().Rows[0]
	res.Profile = prof
	res.Opps3 = 0

	assert.NoError(t, damage.WritePlotData(ctx, res, damage.GeometricModel{}, tmpdir))
	// Path separators in the reference name must not escape the plot dir.
	body, err := ioutil.ReadFile(filepath.Join(tmpdir, "chr1_alt.damage.tsv"))
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	assert.EQ(t, len(lines), 4) // header + one row per distance bucket
	assert.True(t, strings.HasPrefix(lines[1], "5p\t0\t40\t100\t0.4"))
}

func TestWriteTSVEmptyTable(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	path := filepath.Join(tmpdir, "out.tsv")

	// An empty run still produces a well-formed (header-only) file.
	assert.NoError(t, damage.WriteTSV(ctx, &damage.ResultTable{}, path, 2))
	body, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	assert.EQ(t, len(lines), 1)
}
