// Package engine is afrd's scheduler: a single-threaded event loop that
// watches the kernel's video-decoder uevents and HDMI state, derives the
// playing movie's frame rate from several corroborating signals, and
// switches the display's refresh rate to match it. Ported from the
// poll(2) loop and handler functions in afrd.c.
package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ausocean/afrd/internal/apisock"
	"github.com/ausocean/afrd/internal/colorspace"
	"github.com/ausocean/afrd/internal/config"
	"github.com/ausocean/afrd/internal/dispmode"
	"github.com/ausocean/afrd/internal/framerate"
	"github.com/ausocean/afrd/internal/logging"
	"github.com/ausocean/afrd/internal/mstime"
	"github.com/ausocean/afrd/internal/netlinkuevent"
	"github.com/ausocean/afrd/internal/status"
	"github.com/ausocean/afrd/internal/sysfs"
	"github.com/ausocean/afrd/internal/uevent"
)

// configCheckPeriod is how often Run polls the config file's mtime once
// no other timer is pending, matching CONFIG_CHECK_PERIOD.
const configCheckPeriod = 5000

// Engine owns every piece of state afrd's main loop touches: the display
// mode catalog, the colorspace selector, the uevent filters, the open
// sockets, and the frame-rate-detection state machine. One Engine
// corresponds to one afrd_init/afrd_run/afrd_fini cycle.
type Engine struct {
	cfg *config.Config
	log logging.Logger

	configPath  string
	pidfile     string
	configMTime time.Time

	catalog *dispmode.Catalog
	cs      *colorspace.Selector

	filterFRHint *uevent.Filter
	filterVdec   *uevent.Filter
	filterHDMI   *uevent.Filter

	uevents *netlinkuevent.Socket
	api     *apisock.Server
	status  *status.Writer

	state switchState

	ostSwitch   mstime.Timer
	ostHDMI     mstime.Timer
	ostBlackout mstime.Timer
	ostConfig   mstime.Timer
	ostOff      mstime.Timer

	hintStamp mstime.Timer
	hintFps   framerate.Hz

	lastNow  mstime.Millis
	shutdown bool
}

// New builds an Engine from cfg, opening every sysfs/socket resource it
// needs, matching afrd_init. pidfile locates the shared status block
// (status.OpenWriter places it alongside the pidfile, matching
// shmem_init's "dirname(pidfile)/afrd.ipc" convention); configPath is
// re-statted by Run to detect a configuration change.
func New(cfg *config.Config, log logging.Logger, configPath, pidfile string) (*Engine, error) {
	e := &Engine{
		cfg:        cfg,
		log:        log,
		configPath: configPath,
		pidfile:    pidfile,
	}

	e.catalog = &dispmode.Catalog{HDMIDev: cfg.HDMIDev, ModePath: cfg.ModePath}
	if err := e.catalog.Init(cfg.ModeExtra); err != nil {
		return nil, wrap(TransientIO, err, "engine: initializing display mode catalog")
	}

	e.cs = &colorspace.Selector{ListPath: cfg.CSListPath, Path: cfg.CSPath, Log: logfAdapter{log}}
	e.cs.ParseFilters(cfg.CSSelect)
	e.cs.Refresh()
	colorspace.Default = e.cs

	e.filterFRHint, _ = uevent.ParseFilter("frhint", cfg.UeventFilterFRHint)
	e.filterVdec, _ = uevent.ParseFilter("vdec", cfg.UeventFilterVdec)
	e.filterHDMI, _ = uevent.ParseFilter("hdmi", cfg.UeventFilterHDMI)

	e.state.stats.RetryDelay = uint32(cfg.SwitchDelayRetry)

	uevents, err := netlinkuevent.Open(16 * 1024)
	if err != nil {
		return nil, wrap(TransientIO, err, "engine: opening uevent socket")
	}
	e.uevents = uevents

	api, err := apisock.New(e)
	if err != nil {
		e.uevents.Close()
		return nil, wrap(TransientIO, err, "engine: opening API socket")
	}
	e.api = api

	statusWriter, err := status.OpenWriter(pidfile)
	if err != nil {
		e.api.Close()
		e.uevents.Close()
		return nil, wrap(TransientIO, err, "engine: opening status block")
	}
	e.status = statusWriter

	e.updateStats()
	return e, nil
}

// Close tears down every resource New opened, matching afrd_fini.
func (e *Engine) Close() error {
	if e.status != nil {
		e.status.Close()
	}
	if e.api != nil {
		e.api.Close()
	}
	if e.uevents != nil {
		e.uevents.Close()
	}
	return nil
}

// EmergencyClose performs best-effort cleanup from a crash-signal
// handler (SIGFPE/SIGILL/SIGSEGV), matching signal_emerg's call into
// afrd's shutdown path before the default disposition is re-raised. It
// must not block.
func (e *Engine) EmergencyClose() {
	if e.status != nil {
		e.status.Close()
	}
}

// RequestShutdown marks the engine for a clean exit at the top of the
// next loop iteration, matching the SIGINT/SIGQUIT/SIGTERM handler's
// "set a flag, let the main loop notice" behavior.
func (e *Engine) RequestShutdown() {
	e.shutdown = true
}

// Run executes the event loop until shutdown or a configuration change
// is detected, matching afrd_run. reconfigure is true when the config
// file changed underfoot — the caller should Close this Engine and call
// New again, matching the outer afrd_init/afrd_run/afrd_fini loop in
// main.c. sigCh, if non-nil, is polled non-blockingly at the top of each
// iteration for a shutdown request, letting the whole loop stay on one
// goroutine with no lock around e.shutdown.
func (e *Engine) Run(sigCh <-chan os.Signal) (reconfigure bool, err error) {
	e.log.Info("afrd running")

	e.lastNow = mstime.Now()
	e.ostSwitch.Disable()
	e.ostHDMI.Disable()
	e.ostBlackout.Disable()
	e.ostOff.Disable()
	e.ostConfig.Arm(e.lastNow, 1)

	if info, statErr := os.Stat(e.configPath); statErr == nil {
		e.configMTime = info.ModTime()
	}

	e.updateStats()

	for {
		if sigCh != nil {
			select {
			case <-sigCh:
				e.shutdown = true
			default:
			}
		}
		if e.shutdown {
			break
		}

		e.safeUpdateTime(0)
		now := e.lastNow

		to := e.ostSwitch.Left(now)
		to = mstime.Min(to, &e.ostHDMI, now)
		to = mstime.Min(to, &e.ostBlackout, now)
		to = mstime.Min(to, &e.ostConfig, now)
		if to < 0 {
			to = 60000
		}

		aFd, fdErr := e.api.Fd()
		if fdErr != nil {
			return false, wrap(TransientIO, fdErr, "engine: reading API socket descriptor")
		}

		fds := []unix.PollFd{
			{Fd: int32(e.uevents.Fd()), Events: unix.POLLIN},
			{Fd: int32(aFd), Events: unix.POLLIN},
		}

		n, pollErr := unix.Poll(fds, to)

		e.safeUpdateTime(to)

		if pollErr != nil {
			if pollErr == unix.EINTR {
				continue
			}
			return false, wrap(TransientIO, pollErr, "engine: poll")
		}

		if n > 0 {
			if fds[0].Revents&unix.POLLIN != 0 {
				e.handleUevents()
			}
			if fds[1].Revents&unix.POLLIN != 0 {
				if perr := e.api.Poll(); perr != nil {
					e.log.Error("servicing API socket", "error", perr)
				}
			}
		}

		now = mstime.Now()

		if e.ostBlackout.Expired(now) && !e.state.restore {
			e.blackout()
		}
		if e.ostSwitch.Expired(now) {
			e.framerateSwitch(false)
		}
		if e.ostHDMI.Expired(now) {
			e.handleHDMISwitch()
		}
		if e.ostConfig.Expired(now) {
			if e.ostBlackout.Enabled() || e.ostSwitch.Enabled() || e.ostHDMI.Enabled() {
				e.ostConfig.Arm(now, 1000)
			} else {
				e.ostConfig.Arm(now, configCheckPeriod)
				if e.configFileChanged() {
					e.log.Info("config file changed, reloading")
					return true, nil
				}
			}
		}
	}

	e.state.restore = true
	e.framerateSwitch(false)
	return false, nil
}

// safeUpdateTime re-reads the clock and, if the observed delta since the
// last reading exceeds the requested poll timeout by more than 10s,
// shifts every pollable timer by the excess, ported from
// safe_mstime_update. to is the timeout that was (or is about to be)
// passed to poll(2); 0 when called before it's computed.
func (e *Engine) safeUpdateTime(to int) {
	old := e.lastNow
	now := mstime.Now()
	e.lastNow = now

	delta := int(int32(now - old))
	shift := delta - to
	if shift > 10000 {
		e.log.Info("system timer jumped, adjusting timers", "deltaMs", shift)
		e.ostSwitch.Adjust(shift)
		e.ostHDMI.Adjust(shift)
		e.ostBlackout.Adjust(shift)
		e.ostConfig.Adjust(shift)
	}
}

// configFileChanged reports whether configPath's mtime differs from the
// baseline captured at the top of Run, matching the "(cmt != 0) &&
// (cmt != g_config_mtime)" check in afrd_run. It does not update the
// baseline — Run only calls this once per config-check tick, and a
// detected change tears the whole Engine down anyway.
func (e *Engine) configFileChanged() bool {
	info, err := os.Stat(e.configPath)
	if err != nil {
		return false
	}
	return !info.ModTime().IsZero() && !info.ModTime().Equal(e.configMTime)
}

// FrameRateHint implements apisock.Callbacks, matching
// afrd_frame_rate_hint: hz is already in 24.8 fixed-point.
func (e *Engine) FrameRateHint(hz int) {
	e.hintFps = framerate.Hz(hz)
	e.hintStamp.Arm(mstime.Now(), 1000)
}

// SetRefreshRate implements apisock.Callbacks, matching
// afrd_refresh_rate with a nonzero argument: a forced, non-debounced
// switch to hz.
func (e *Engine) SetRefreshRate(hz int) {
	e.apiSetHz(framerate.Hz(hz))
}

// Restore implements apisock.Callbacks, matching afrd_refresh_rate(0).
func (e *Engine) Restore() {
	e.apiSetHz(0)
}

func (e *Engine) apiSetHz(hz framerate.Hz) {
	valid := hz != 0 && hz >= framerate.Min && hz < framerate.Max
	if !valid {
		hz = 0
	}
	e.state.restore = !valid
	e.state.hz = hz
	e.framerateSwitch(true)
}

// ColorSpace implements apisock.Callbacks, matching
// afrd_override_colorspace.
func (e *Engine) ColorSpace(spec string) {
	e.cs.Override(spec)
}

// Status implements apisock.Callbacks.
func (e *Engine) Status() status.Record {
	if e.status != nil {
		return e.status.Last()
	}
	return e.snapshot()
}

// Reconf implements apisock.Callbacks, matching afrd_reconf: force the
// next config-check tick to both fire immediately and detect a change
// regardless of the file's actual mtime.
func (e *Engine) Reconf() {
	e.ostConfig.Arm(mstime.Now(), 0)
	e.configMTime = time.Time{}
}

// delayFramerateSwitch schedules a debounced mode switch (restore=false,
// matching FRHINT_START/VDEC_ADD) or restore (restore=true, matching
// FRHINT_END/VDEC_REMOVE), ported verbatim from delay_framerate_switch.
// hz is a known target rate, 0 if not yet known; modalias is the
// uevent's MODALIAS field, empty if absent.
func (e *Engine) delayFramerateSwitch(restore bool, hz framerate.Hz, modalias string) {
	e.ostBlackout.Disable()
	e.ostSwitch.Disable()

	now := mstime.Now()

	if e.cfg.SwitchIgnore != 0 {
		if restore {
			e.ostOff.Arm(now, uint32(e.cfg.SwitchIgnore))
		} else if e.ostOff.Enabled() && !e.ostOff.Expired(now) && !e.catalog.Blackened() {
			e.log.Info("ignoring framerate switch, restore event was recent")
			e.state.restore = false
			e.updateStats()
			return
		}
	}

	delay := uint32(e.cfg.SwitchDelayOn)
	if restore {
		delay = uint32(e.cfg.SwitchDelayOff)
	}

	if restore && e.cfg.SwitchDelayOff == 0 {
		e.log.Info("refresh rate restoration disabled by user")
		e.framerateRestore(true)
		e.state.clear()
		e.updateStats()
		return
	}

	if modalias != "" {
		if contains(e.cfg.VdecBlacklist, modalias) {
			e.log.Info("blacklisted vdec, skipping AFR", "modalias", modalias)
			return
		}
		e.state.modalias = modalias
	}

	if e.state.restore != restore {
		e.state.restore = restore
		e.state.hz = hz
		e.state.resetStats()
	}

	if restore && e.catalog.Blackened() {
		delay = uint32(e.cfg.SwitchDelayOn)
	}

	if !restore && e.hintStamp.Enabled() && !e.hintStamp.Expired(now) {
		hz = e.hintFps
	}

	if hz != 0 && hz >= framerate.Min && hz < framerate.Max {
		e.state.stats.Accumulate(now, hz, framerate.SrcFRH)
		e.state.hz = e.state.stats.Best(now, false)
	}

	e.ostSwitch.Arm(now, delay)

	if restore {
		e.state.hzDeadline.Disable()
	} else {
		e.state.hzDeadline.Arm(now, uint32(e.cfg.SwitchTimeout))
		if e.cfg.Enable && e.cfg.SwitchBlackout > 0 && e.state.hz == 0 && !e.state.hasOrigMode {
			e.ostBlackout.Arm(now, uint32(e.cfg.SwitchBlackout))
		}
	}
}

// framerateSwitch attempts to commit a display mode switch for the
// movie currently detected as playing, ported verbatim from
// framerate_switch, including its fallbacks to framerateRestore at every
// point the original bails out to framerate_restore.
func (e *Engine) framerateSwitch(force bool) {
	now := mstime.Now()

	if e.state.restore {
		e.framerateRestore(false)
		return
	}

	if !e.cfg.Enable {
		e.log.Info("user disabled AFR")
		e.framerateRestore(true)
		return
	}

	if e.state.hz == 0 && e.state.hzDeadline.Expired(now) {
		e.state.hz = e.state.stats.Best(now, true)
		if e.state.hz == 0 {
			e.log.Info("timeout detecting movie frame rate, giving up")
			e.framerateRestore(true)
			return
		}
	}

	if e.state.hz == 0 {
		e.queryFrameRate(now)
		e.state.hz = e.state.stats.Best(now, false)
		if e.state.hz == 0 {
			if e.cfg.SwitchDelayRetry != 0 {
				e.ostSwitch.Arm(now, uint32(e.cfg.SwitchDelayRetry))
			}
			return
		}
	}

	if e.cfg.ModeUseFract != 0 {
		tmp := dispmode.Mode{FrameRate: (int(e.state.hz) + 0x80) >> 8, Fractional: e.cfg.ModeUseFract == 1}
		e.state.hz = framerate.Hz(tmp.Hz())
	}

	current := e.catalog.Current()
	best, ok := searchMode(e.catalog.Modes(), current, e.state.hz, e.cfg.ModePreferExact, e.rateBlacklisted)
	if !ok {
		e.log.Info("failed to find a suitable display mode")
		e.framerateRestore(true)
		return
	}

	if e.state.hasOrigMode && !e.catalog.Blackened() && !force {
		if framerate.Close(framerate.Hz(best.Hz()), framerate.Hz(current.Hz())) {
			e.log.Info("skipping mode switch, current refresh is close enough")
			e.framerateRestore(true)
			return
		}
	}

	e.ostBlackout.Disable()

	if !e.state.hasOrigMode {
		e.state.origMode = current
		e.state.hasOrigMode = true
	}

	if err := e.catalog.SwitchTo(best, force); err != nil {
		e.log.Error("switching display mode", "error", err)
	}
	e.updateStats()
}

// framerateRestore switches back to the mode saved before this playback
// session, or leaves the display alone if onlyIfBlack is set and the
// screen isn't currently blackened, ported verbatim from
// framerate_restore.
func (e *Engine) framerateRestore(onlyIfBlack bool) {
	e.ostBlackout.Disable()
	e.ostSwitch.Disable()

	if onlyIfBlack && !e.catalog.Blackened() {
		return
	}

	target := e.catalog.Current()
	if e.state.hasOrigMode {
		target = e.state.origMode
	}
	if err := e.catalog.SwitchTo(target, false); err != nil {
		e.log.Error("restoring display mode", "error", err)
	}

	e.state.clear()
	e.updateStats()
}

// blackout blanks the screen while the movie's frame rate is still
// being detected, ported from afrd.c's blackout(). Idempotent.
func (e *Engine) blackout() {
	e.ostBlackout.Disable()
	if e.catalog.Blackened() {
		return
	}

	e.catalog.Refresh()
	e.state.origMode = e.catalog.Current()
	e.state.hasOrigMode = true

	if err := e.catalog.Blackout(); err != nil {
		e.log.Error("blacking out display", "error", err)
	}
	e.updateStats()
}

// handleHDMISwitch reinitializes the mode catalog after the HDMI link
// settles following a hotplug event, or clears it if HDMI is no longer
// active, ported from handle_hdmi_switch.
func (e *Engine) handleHDMISwitch() {
	active, err := sysfs.ReadInt(e.cfg.HDMIState, "")
	if err != nil || active <= 0 {
		e.log.Info("HDMI not active, clearing video mode list")
		e.catalog.Clear()
		e.state.hasOrigMode = false
		e.state.origMode = dispmode.Mode{}
		return
	}

	if err := e.catalog.Init(e.cfg.ModeExtra); err != nil {
		e.log.Error("reinitializing display mode catalog", "error", err)
	}
	e.cs.Refresh()
}

// queryFrameRate polls every vdec sysfs source for a frame rate sample,
// ported from framerate_switch's "still unknown" fallback section.
func (e *Engine) queryFrameRate(now mstime.Millis) {
	if hz, ok := framerate.QueryChunks(e.cfg.VdecSysfs); ok {
		e.state.stats.Accumulate(now, hz, framerate.SrcChunks)
	}

	hz, newStamp, ok := framerate.QueryBlocks(e.cfg.VdecSysfs, e.state.stats.SamplesStamp)
	e.state.stats.SamplesStamp = newStamp
	if ok {
		e.state.stats.Accumulate(now, hz, framerate.SrcBlocks)
	}

	if hz, ok := framerate.QueryStatus(e.cfg.VdecSysfs); ok {
		e.state.stats.Accumulate(now, hz, framerate.SrcVDEC)
	}
}

// rateBlacklisted reports whether hz is within 1 unit of a configured
// blacklisted rate, matching rate_is_blacklisted.
func (e *Engine) rateBlacklisted(hz dispmode.Hz) bool {
	for _, r := range e.cfg.ModeBlacklist {
		d := int(hz) - r
		if d < 0 {
			d = -d
		}
		if d <= 1 {
			return true
		}
	}
	return false
}

// onHDMIChange arms the HDMI-settle timer, matching HDMI_CHANGE's
// handler in handle_uevent.
func (e *Engine) onHDMIChange() {
	e.ostHDMI.Arm(mstime.Now(), uint32(e.cfg.SwitchHDMI))
}

// handleUevents drains every pending message on the uevent socket,
// matching handle_uevents' receive loop.
func (e *Engine) handleUevents() {
	for {
		msg, ok, err := e.uevents.Recv()
		if err != nil {
			e.log.Error("reading uevent", "error", err)
			return
		}
		if !ok {
			return
		}
		e.handleUevent(netlinkuevent.ParseFields(msg))
	}
}

// handleUevent dispatches one parsed uevent message to whichever
// filter it satisfies, ported from handle_uevent: FRAME_RATE_HINT/
// FRAME_RATE_END_HINT (FRHINT_START/FRHINT_END), vdec add/remove
// (VDEC_ADD/VDEC_REMOVE), and HDMI state changes (HDMI_CHANGE) all
// funnel through this one dispatcher.
func (e *Engine) handleUevent(fields []netlinkuevent.Field) {
	e.filterFRHint.Reset()
	e.filterVdec.Reset()
	e.filterHDMI.Reset()

	var frameRateHint string
	var haveFRHint, haveFREndHint bool
	var action, modalias string

	for _, f := range fields {
		switch f.Key {
		case "FRAME_RATE_HINT":
			frameRateHint, haveFRHint = f.Value, true
		case "FRAME_RATE_END_HINT":
			haveFREndHint = true
		case "ACTION":
			action = f.Value
		case "MODALIAS":
			modalias = strings.TrimPrefix(f.Value, "platform:")
		}

		e.filterFRHint.Match(f.Key, f.Value)
		e.filterVdec.Match(f.Key, f.Value)
		e.filterHDMI.Match(f.Key, f.Value)
	}

	switch {
	case e.filterFRHint.Satisfied():
		switch {
		case haveFRHint:
			hz, ok := framerate.ParseHint(frameRateHint)
			if !ok {
				return
			}
			if contains(e.cfg.FrhintVdecBlacklist, e.state.modalias) {
				e.log.Info("blacklisted vdec for FRAME_RATE_HINT, skipping", "modalias", e.state.modalias)
				return
			}
			e.delayFramerateSwitch(false, hz, modalias)
		case haveFREndHint:
			e.delayFramerateSwitch(true, 0, modalias)
		}

	case e.filterVdec.Satisfied():
		switch action {
		case "add":
			e.delayFramerateSwitch(false, 0, modalias)
		case "remove":
			e.delayFramerateSwitch(true, 0, modalias)
		}

	case e.filterHDMI.Satisfied() && e.cfg.SwitchHDMI > 0:
		e.log.Info("HDMI state changed, will handle later", "delayMs", e.cfg.SwitchHDMI)
		e.onHDMIChange()
	}
}

// snapshot builds a fresh status.Record from current engine state,
// ported from update_stats's field assignments.
func (e *Engine) snapshot() status.Record {
	current := e.catalog.Current()

	rec := status.Record{
		VerMajor:  VersionMajor,
		VerMinor:  VersionMinor,
		VerMicro:  VersionMicro,
		Enabled:   e.cfg.Enable,
		Switched:  e.state.hasOrigMode,
		Blackened: e.catalog.Blackened(),
		CurrentHz: int32(current.Hz()),
	}
	copy(rec.BDate[:], BuildDate)
	copy(rec.VerSfx[:], VersionSuffix)

	if e.state.hasOrigMode {
		rec.OriginalHz = int32(e.state.origMode.Hz())
	} else {
		rec.OriginalHz = int32(current.Hz())
	}
	return rec
}

// updateStats writes a fresh snapshot to the shared status block,
// matching update_stats.
func (e *Engine) updateStats() {
	if e.status == nil {
		return
	}
	if err := e.status.Update(e.snapshot()); err != nil {
		e.log.Error("updating status block", "error", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// logfAdapter bridges logging.Logger to colorspace.Logger's printf-style
// Debugf, since the rest of afrd uses structured key/value logging but
// colorspace.c's trace calls were already formatted strings.
type logfAdapter struct {
	log logging.Logger
}

func (a logfAdapter) Debugf(format string, args ...interface{}) {
	a.log.Debug(fmt.Sprintf(format, args...))
}

var _ apisock.Callbacks = (*Engine)(nil)
