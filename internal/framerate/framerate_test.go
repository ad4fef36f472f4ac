package framerate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ausocean/afrd/internal/mstime"
)

func TestRoundSnapsToNearestSaneRate(t *testing.T) {
	got := Round(Hz(60*256 + 2))
	if want := Hz(60 * 256); got != want {
		t.Fatalf("Round() = %v, want %v", got, want)
	}
}

func TestRoundRejectsFarOffRate(t *testing.T) {
	if got := Round(Hz(37 * 256)); got != 0 {
		t.Fatalf("Round(37hz) = %v, want 0", got)
	}
}

func TestCloseWithinOneUnit(t *testing.T) {
	if !Close(100, 101) {
		t.Fatal("values 1 apart should be close")
	}
}

func TestCloseWithinHalfPercent(t *testing.T) {
	if !Close(Hz(10000), Hz(10040)) {
		t.Fatal("values within 0.5%% should be close")
	}
}

func TestCloseRejectsFarApart(t *testing.T) {
	if Close(Hz(10000), Hz(20000)) {
		t.Fatal("values far apart should not be close")
	}
}

func TestAccumulateBuildsWeight(t *testing.T) {
	var e Estimator
	e.RetryDelay = 1000
	now := mstime.Millis(1000)

	e.Accumulate(now, Hz(60*256), SrcChunks)
	if got := e.Best(now, false); got != 0 {
		t.Fatalf("Best() after a single Chunks sample (weight 50) = %v, want 0 (below AcceptWeight)", got)
	}

	e.Accumulate(now, Hz(60*256), SrcChunks)
	if got := e.Best(now, false); got != Hz(60*256) {
		t.Fatalf("Best() after weight reaches 100 = %v, want %v", got, Hz(60*256))
	}
}

func TestAccumulateResetsOnDivergence(t *testing.T) {
	var e Estimator
	e.RetryDelay = 1000
	now := mstime.Millis(0)

	e.Accumulate(now, Hz(60*256), SrcChunks)
	e.Accumulate(now, Hz(30*256), SrcChunks)

	st := e.stats[SrcChunks]
	if st.weight != weight[SrcChunks] {
		t.Fatalf("weight after divergent sample = %d, want %d (reset then re-added)", st.weight, weight[SrcChunks])
	}
}

func TestBestPrefersHighestWeightSource(t *testing.T) {
	var e Estimator
	e.RetryDelay = 10000
	now := mstime.Millis(0)

	// FRH alone reaches AcceptWeight in one sample (weight 100).
	e.Accumulate(now, Hz(24*256), SrcFRH)
	e.Accumulate(now, Hz(60*256), SrcChunks)
	e.Accumulate(now, Hz(60*256), SrcChunks)

	if got := e.Best(now, false); got != Hz(24*256) {
		t.Fatalf("Best() = %v, want FRH's rate %v", got, Hz(24*256))
	}
}

func TestBestLastChanceHalvesThreshold(t *testing.T) {
	var e Estimator
	e.RetryDelay = 10000
	now := mstime.Millis(0)

	e.Accumulate(now, Hz(60*256), SrcVDEC)
	if got := e.Best(now, false); got != 0 {
		t.Fatalf("Best(false) with weight 25 = %v, want 0", got)
	}
	if got := e.Best(now, true); got != 0 {
		t.Fatalf("Best(true) with weight 25 (< half of 100) = %v, want 0", got)
	}

	e.Accumulate(now, Hz(60*256), SrcBlocks)
	// weight now 25 (VDEC, expired-ignorable) + 34 (BLOCKS) = accumulate independently per-source;
	// BLOCKS alone at weight 34 is still below 50 (half of AcceptWeight).
	if got := e.Best(now, true); got != 0 {
		t.Fatalf("Best(true) with BLOCKS weight 34 = %v, want 0", got)
	}
}

func TestParseHint(t *testing.T) {
	hz, ok := ParseHint("4004")
	if !ok {
		t.Fatal("ParseHint failed on a valid value")
	}
	want := Hz((256*96000 + 4004/2) / 4004)
	if hz != want {
		t.Fatalf("ParseHint(4004) = %v, want %v", hz, want)
	}
}

func TestParseHintRejectsZero(t *testing.T) {
	if _, ok := ParseHint("0"); ok {
		t.Fatal("ParseHint should reject a zero hint")
	}
}

func TestParseHintRejectsGarbage(t *testing.T) {
	if _, ok := ParseHint("nope"); ok {
		t.Fatal("ParseHint should reject non-numeric input")
	}
}

func TestQueryStatusPrefersFrameDur(t *testing.T) {
	dir := t.TempDir()
	content := "frame rate: 30 fps\nframe dur: 4004\n"
	if err := os.WriteFile(filepath.Join(dir, "vdec_status"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	hz, ok := QueryStatus(dir)
	if !ok {
		t.Fatal("QueryStatus failed")
	}
	want := Round(Hz((256*96000 + 4004/2) / 4004))
	if hz != want {
		t.Fatalf("QueryStatus() = %v, want %v", hz, want)
	}
}

func TestQueryStatusFallsBackToFps(t *testing.T) {
	dir := t.TempDir()
	content := "frame rate: 60 fps\nframe dur: 0\n"
	if err := os.WriteFile(filepath.Join(dir, "vdec_status"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	hz, ok := QueryStatus(dir)
	if !ok {
		t.Fatal("QueryStatus failed")
	}
	if want := Hz(60 << 8); hz != want {
		t.Fatalf("QueryStatus() = %v, want %v", hz, want)
	}
}

func TestQueryBlocksDedupsOnUnchangedStamp(t *testing.T) {
	dir := t.TempDir()
	content := "id:0,dsize=123,frames:30,dur:1000\n"
	if err := os.WriteFile(filepath.Join(dir, "dump_vdec_blocks"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	hz, stamp, ok := QueryBlocks(dir, 0)
	if !ok {
		t.Fatal("QueryBlocks failed on first read")
	}
	if stamp != 123 {
		t.Fatalf("stamp = %d, want 123", stamp)
	}
	if hz == 0 {
		t.Fatal("expected a non-zero rate")
	}

	// Same dsize means no new data: must be ignored.
	_, _, ok = QueryBlocks(dir, 123)
	if ok {
		t.Fatal("QueryBlocks should dedup against an unchanged samples stamp")
	}
}

func TestQueryBlocksRejectsInsufficientFrames(t *testing.T) {
	dir := t.TempDir()
	content := "id:0,dsize=1,frames:2,dur:1000\n"
	if err := os.WriteFile(filepath.Join(dir, "dump_vdec_blocks"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := QueryBlocks(dir, 0); ok {
		t.Fatal("QueryBlocks should reject too few frames")
	}
}
