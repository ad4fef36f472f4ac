// Package framerate implements afrd's multi-source frame rate estimator:
// several independent, unreliable signals about the movie's frame rate
// are accumulated with different confidence weights until one is
// trusted enough to act on, ported from the fps-detection half of
// afrd.c (hz_round, hz_close, accumulate_fps, best_fps and the three
// query_vdec_* sources).
package framerate

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ausocean/afrd/internal/mstime"
	"github.com/ausocean/afrd/internal/sysfs"
)

// Hz is a refresh/frame rate in 24.8 fixed-point, identical in
// representation to dispmode.Hz (kept as a separate type since this
// package must not import dispmode — the estimator has no notion of
// display modes, only rates).
type Hz int

// Min and Max bound what accumulate_fps/best_fps consider a sane rate.
const (
	Min = Hz(10000 * 256 / 1000)
	Max = Hz(100000 * 256 / 1000)
)

// saneHz are the framerate values Round snaps to, taken verbatim from
// hz_round's sane_hz table.
var saneHz = []Hz{
	fp8(23, 976), fp8(24, 0),
	fp8(25, 0),
	fp8(29, 970), fp8(30, 0),
	fp8(50, 0),
	fp8(59, 940), fp8(60, 0),
}

// fp8 builds a 24.8 fixed-point Hz value out of an integer part and a
// 3-digit fractional part, matching the FP8(int,frac) macro.
func fp8(intPart, frac int) Hz {
	return Hz(((intPart*1000+frac)*256 + 500) / 1000)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Close reports whether hz1 and hz2 are close enough to be considered the
// same rate: within 1 unit (rounding error), or within 0.5%, matching
// hz_close. It deliberately also considers a fractional rate "equal" to
// its integer counterpart — it exists to filter outliers, not to tell
// fractional and integer rates apart.
func Close(hz1, hz2 Hz) bool {
	if absInt(int(hz1)-int(hz2)) <= 1 {
		return true
	}
	return absInt(10000-((int(hz1)*10000+int(hz2)/2)/int(hz2))) <= 50
}

// Round snaps hz to the nearest entry in saneHz if Close to it, or
// returns 0 if hz isn't close to any known standard rate, matching
// hz_round.
func Round(hz Hz) Hz {
	var closest Hz
	closestDelta := 99999999
	for _, s := range saneHz {
		delta := absInt(int(s) - int(hz))
		if delta < closestDelta {
			closestDelta = delta
			closest = s
		}
	}
	if Close(hz, closest) {
		return closest
	}
	return 0
}

// Source identifies one of the independent fps signals afrd consults,
// each weighted by how trustworthy it is.
type Source int

const (
	SrcFRH Source = iota
	SrcChunks
	SrcBlocks
	SrcVDEC
	srcCount
)

// weight gives each source's contribution towards AcceptWeight, matching
// src_weight: FRAME_RATE_HINT is immediately usable (100), vdec_chunks is
// fairly reliable (50), vdec_blocks less so (34), and vdec_status needs
// the most corroboration (25).
var weight = [srcCount]int{100, 50, 34, 25}

// AcceptWeight is the accumulated weight at which a source's rate is
// trusted outright, matching ACCEPT_HZ_WEIGHT.
const AcceptWeight = 100

type stat struct {
	hz      Hz
	weight  int
	timeout mstime.Timer
}

// Estimator accumulates fps samples from multiple sources and picks the
// best guess once enough weight has built up, matching g_state.hz_stat
// plus accumulate_fps/best_fps.
type Estimator struct {
	stats [srcCount]stat

	// RetryDelay is the switch retry delay (ms); each source's contribution
	// stays fresh for RetryDelay*2 after its last sample, matching
	// g_switch_delay_retry*2 as passed to mstime_arm in accumulate_fps.
	RetryDelay uint32

	// SamplesStamp detects when dump_vdec_blocks hasn't advanced since the
	// last poll, matching g_state.hz_samples_stamp.
	SamplesStamp int
}

// Reset clears all accumulated source data, used when engine state is
// reset (a new movie starts playing), matching the
// "memset(&g_state.hz_stat, 0, ...)" in afrd.c's vdec-add handler.
func (e *Estimator) Reset() {
	*e = Estimator{RetryDelay: e.RetryDelay}
}

// Accumulate records an hz sample from src, resetting that source's
// accumulated weight first if the new sample diverges from its last one,
// matching accumulate_fps.
func (e *Estimator) Accumulate(now mstime.Millis, hz Hz, src Source) {
	st := &e.stats[src]
	if st.weight != 0 && !Close(hz, st.hz) {
		st.weight = 0
	}

	st.hz = hz
	st.weight += weight[src]
	st.timeout.Arm(now, e.RetryDelay*2)
}

// Best picks the highest-weight source that still has time left on its
// corroboration window (!lastChance) or has reached AcceptWeight/2
// regardless of its window (lastChance), and returns its rate if that
// source's weight reaches the threshold (AcceptWeight, or AcceptWeight/2
// when lastChance), else 0. Ported from
// best_fps, including its "higher source index never overrides an
// equally-weighted earlier one" priority rule (best_prio > src_weight[i]
// skips, never ==).
func (e *Estimator) Best(now mstime.Millis, lastChance bool) Hz {
	var best *stat
	bestPrio := 0
	acceptWeight := AcceptWeight
	if lastChance {
		acceptWeight = AcceptWeight / 2
	}

	for i := Source(0); i < srcCount; i++ {
		if bestPrio > weight[i] {
			continue
		}
		st := &e.stats[i]
		if st.weight == 0 {
			continue
		}

		if lastChance {
			if st.weight < acceptWeight {
				continue
			}
		} else {
			if !st.timeout.Enabled() || st.timeout.Expired(now) {
				continue
			}
		}

		bestPrio = weight[i]
		best = st
	}

	if best == nil || best.weight < acceptWeight {
		return 0
	}
	return best.hz
}

// ParseHint converts a FRAME_RATE_HINT uevent value (a denominator such
// that fps = 96000/frh) into Hz, matching
// "(256*96000 + frh/2) / frh" in afrd.c's uevent handler. ok is false for
// a zero or unparseable value.
func ParseHint(val string) (hz Hz, ok bool) {
	frh, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || frh == 0 {
		return 0, false
	}
	return Hz((256*96000 + frh/2) / frh), true
}

// QueryChunks reads sysfsDir/dump_vdec_chunks, a log of decoded frame
// presentation timestamps, and derives a high-precision frame rate from
// the sorted inter-frame deltas. Ported from query_vdec_chunks, including
// its frame-skip compensation (a delta ~2x or ~0.5x the base delta is
// folded back in rather than treated as a rate change) and its outlier
// rejection (deltas more than 1500us from the base are dropped).
func QueryChunks(sysfsDir string) (Hz, bool) {
	if sysfsDir == "" {
		return 0, false
	}

	raw, err := sysfs.ReadString(sysfsDir + "/dump_vdec_chunks")
	if err != nil {
		return 0, false
	}
	if len(raw) < 100 {
		return 0, false
	}

	var pts []int
	var base int64
	haveBase := false
	for _, line := range strings.Split(raw, "\n") {
		idx := strings.Index(line, "pts64=")
		if idx < 0 {
			continue
		}
		rest := line[idx+len("pts64="):]
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end == 0 {
			continue
		}
		v, err := strconv.ParseInt(rest[:end], 10, 64)
		if err != nil {
			continue
		}
		if !haveBase {
			base = v
			haveBase = true
		}
		pts = append(pts, int(v-base))
		if len(pts) >= 64 {
			break
		}
	}

	if len(pts) < 5 {
		return 0, false
	}

	sort.Ints(pts)

	deltas := make([]int, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		deltas[i-1] = pts[i] - pts[i-1]
	}

	basePts := deltas[0]
	avgPts := basePts
	avgCount := 1
	for i := 1; i < len(deltas); i++ {
		d := deltas[i]
		rate := 128 * d / basePts
		switch {
		case rate >= 247 && rate <= 264:
			avgCount++
		case rate >= 62 && rate <= 66:
			avgCount *= 2
			basePts = d
		case d > basePts+1500 || d < basePts-1500:
			continue
		}
		avgCount++
		avgPts += d
	}

	if avgCount < 3 {
		return 0, false
	}

	hz := Round(Hz((avgCount * 256 * 1000) / (avgPts / 1000)))
	if hz == 0 {
		return 0, false
	}
	return hz, true
}

// BlockStats is the subset of dump_vdec_blocks fields query_vdec_blocks
// extracts via find_ulong.
type BlockStats struct {
	Dsize   int
	NFrames int
	DurMs   int
}

// QueryBlocks reads sysfsDir/dump_vdec_blocks and derives a frame rate
// from the total frame count and duration of the last playback window,
// ported from query_vdec_blocks. samplesStamp is the estimator's
// de-duplication marker (dsize is compared against it so the same block
// isn't counted twice); it is returned alongside the result so the
// caller can persist it.
func QueryBlocks(sysfsDir string, samplesStamp int) (hz Hz, newStamp int, ok bool) {
	if sysfsDir == "" {
		return 0, samplesStamp, false
	}

	line, err := sysfs.ReadString(sysfsDir + "/dump_vdec_blocks")
	if err != nil {
		return 0, samplesStamp, false
	}

	stats, ok := parseBlockLine(line)
	if !ok {
		return 0, samplesStamp, false
	}

	if stats.NFrames < 5 || stats.DurMs < 120 || stats.Dsize == samplesStamp {
		return 0, samplesStamp, false
	}

	newStamp = stats.Dsize
	hz = Round(Hz((stats.NFrames*256000 + stats.DurMs/2) / stats.DurMs))
	if hz == 0 {
		return 0, newStamp, false
	}
	return hz, newStamp, true
}

func parseBlockLine(line string) (BlockStats, bool) {
	dsize, ok1 := findULong(line, ",dsize=")
	nframes, ok2 := findULong(line, ",frames:")
	durint, ok3 := findULong(line, ",dur:")
	if !ok1 || !ok2 || !ok3 {
		return BlockStats{}, false
	}
	return BlockStats{Dsize: dsize, NFrames: nframes, DurMs: durint}, true
}

// findULong extracts the unsigned decimal integer following prefix
// anywhere in s, matching strfun.c's find_ulong.
func findULong(s, prefix string) (int, bool) {
	idx := strings.Index(s, prefix)
	if idx < 0 {
		return 0, false
	}
	rest := s[idx+len(prefix):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return v, true
}

// ntscHz maps a handful of common integer fps values reported by
// vdec_status to their NTSC-fractional Hz equivalent, matching the
// switch statement at the end of query_vdec.
var ntscHz = map[int]Hz{
	23: (2997*256 + 62) / 125,
	29: (2997*256 + 50) / 100,
	59: (5994*256 + 50) / 100,
}

// QueryStatus reads sysfsDir/vdec_status, a "key: value" text dump, and
// derives a frame rate preferring the "frame dur" field over "frame
// rate" (the latter is rounded to an integer and sometimes wildly
// wrong), matching query_vdec.
func QueryStatus(sysfsDir string) (Hz, bool) {
	if sysfsDir == "" {
		return 0, false
	}

	raw, err := sysfs.ReadString(sysfsDir + "/vdec_status")
	if err != nil {
		return 0, false
	}

	var fps, frameDur int
	for _, line := range strings.Split(raw, "\n") {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		attr := strings.TrimSpace(line[:colon])
		val := strings.TrimSpace(line[colon+1:])

		switch attr {
		case "frame rate":
			fps = parseLeadingInt(val, "fps")
		case "frame dur":
			frameDur = parseLeadingIntStrict(val)
		}
	}

	var hz Hz
	if frameDur != 0 {
		hz = Round(Hz((256*96000 + frameDur/2) / frameDur))
	}
	if hz == 0 && fps != 0 {
		switch fps {
		case 24, 25, 30, 50, 60:
			hz = Hz(fps << 8)
		default:
			if v, ok := ntscHz[fps]; ok {
				hz = v
			}
		}
	}
	if hz == 0 {
		return 0, false
	}
	return hz, true
}

// parseLeadingInt parses a leading integer, tolerating a trailing suffix
// (after whitespace) equal to suffix and treating anything else trailing
// as garbage that invalidates the whole value, matching query_vdec's
// "frame rate" parsing.
func parseLeadingInt(s, suffix string) int {
	end := 0
	neg := false
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		end = 1
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	if neg {
		v = -absInt(v)
	}
	rest := strings.TrimSpace(s[end:])
	if rest != "" && rest != suffix {
		return 0
	}
	return v
}

// parseLeadingIntStrict parses a leading integer allowing no trailing
// text at all, matching query_vdec's "frame dur" parsing.
func parseLeadingIntStrict(s string) int {
	end := 0
	if len(s) > 0 && s[0] == '-' {
		end = 1
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start || end != len(s) {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
