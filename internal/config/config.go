// Package config loads afrd's runtime configuration from an INI file,
// ported from the cfg_get_str/cfg_get_int wrappers in cfg.c and the
// DEFAULT_* constants and loader in afrd.c/afrd.h. Every setting lives in
// the INI file's default (nameless) section, matching the flat
// "key.subkey = value" key space the original config file uses.
package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Defaults for settings afrd.c seeds from DEFAULT_* macros when the
// config file doesn't override them.
const (
	DefaultHDMIDev           = "/sys/class/amhdmitx/amhdmitx0"
	DefaultHDMIState         = "/sys/class/switch/hdmi/state"
	DefaultHDMIDelay         = 300
	DefaultVideoMode         = "/sys/class/display/mode"
	DefaultVdecSysfs         = "/sys/class/vdec"
	DefaultSwitchDelayOn     = 250
	DefaultSwitchDelayOff    = 5000
	DefaultSwitchDelayRetry  = 500
	DefaultSwitchTimeout     = 3000
	DefaultSwitchBlackout    = 50
	DefaultModePreferExact   = 0
	DefaultModeUseFract      = 0
	// DefaultSwitchIgnore/DefaultSwitchHdmi: the upstream header defining
	// these two was not available to port from; 0 (disabled) matches the
	// conservative default every other *_IGNORE/_HDMI style knob in this
	// file uses when absent.
	DefaultSwitchIgnore = 0
	DefaultSwitchHDMI   = 0
	DefaultAPIPort      = 50505
)

// Config is afrd's full set of runtime settings, flattened out of the INI
// file's default section. Field groupings mirror the cfg_get_str/
// cfg_get_int call sequence in afrd_init.
type Config struct {
	Enable bool

	HDMIDev   string
	HDMIState string
	HDMIDelay int

	ModePath         string
	ModePreferExact  bool
	ModeUseFract     int // 0: pick the closer of integer/fractional, 1: force fractional, 2: force integer
	ModeBlacklist    []int
	ModeExtra        []string

	SwitchDelayOn    int
	SwitchDelayOff   int
	SwitchDelayRetry int
	SwitchTimeout    int
	SwitchBlackout   int
	SwitchIgnore     int
	SwitchHDMI       int

	VdecSysfs           string
	VdecBlacklist       []string
	FrhintVdecBlacklist []string

	UeventFilterFRHint string
	UeventFilterVdec   string
	UeventFilterHDMI   string

	CSListPath string
	CSPath     string
	CSSelect   string

	APIPort int

	LogEnable bool
	LogFile   string
	LogLevel  int
}

// Load reads path as an INI file and returns a Config with every setting
// resolved against its DEFAULT_* fallback, matching afrd_init's
// cfg_get_str/cfg_get_int sequence.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: loading %s", path)
	}
	return fromFile(f), nil
}

// Default returns every setting at its DEFAULT_* fallback, matching the
// original daemon's behavior when no config file on the command line
// loads successfully: cfg_get_str/cfg_get_int tolerate a nil cfg_struct
// and fall straight through to their default argument.
func Default() *Config {
	return fromFile(ini.Empty())
}

func fromFile(f *ini.File) *Config {
	sec := f.Section("")

	c := &Config{
		Enable: sec.Key("enable").MustBool(true),

		HDMIDev:   sec.Key("hdmi.sysfs").MustString(DefaultHDMIDev),
		HDMIState: sec.Key("hdmi.state").MustString(DefaultHDMIState),
		HDMIDelay: sec.Key("hdmi.delay").MustInt(DefaultHDMIDelay),

		ModePath:        sec.Key("mode.path").MustString(DefaultVideoMode),
		ModePreferExact: sec.Key("mode.prefer.exact").MustInt(DefaultModePreferExact) != 0,
		ModeUseFract:    sec.Key("mode.use.fract").MustInt(DefaultModeUseFract),
		ModeExtra:       splitList(sec.Key("mode.extra").String()),

		SwitchDelayOn:    sec.Key("switch.delay.on").MustInt(DefaultSwitchDelayOn),
		SwitchDelayOff:   sec.Key("switch.delay.off").MustInt(DefaultSwitchDelayOff),
		SwitchDelayRetry: sec.Key("switch.delay.retry").MustInt(DefaultSwitchDelayRetry),
		SwitchTimeout:    sec.Key("switch.timeout").MustInt(DefaultSwitchTimeout),
		SwitchBlackout:   sec.Key("switch.blackout").MustInt(DefaultSwitchBlackout),
		SwitchIgnore:     sec.Key("switch.ignore").MustInt(DefaultSwitchIgnore),
		SwitchHDMI:       sec.Key("switch.hdmi").MustInt(DefaultSwitchHDMI),

		VdecSysfs:           sec.Key("vdec.sysfs").MustString(DefaultVdecSysfs),
		VdecBlacklist:       splitList(sec.Key("vdec.blacklist").String()),
		FrhintVdecBlacklist: splitList(sec.Key("frhint.vdec.blacklist").String()),

		UeventFilterFRHint: sec.Key("uevent.filter.frhint").String(),
		UeventFilterVdec:   sec.Key("uevent.filter.vdec").String(),
		UeventFilterHDMI:   sec.Key("uevent.filter.hdmi").String(),

		CSListPath: sec.Key("cs.list.path").String(),
		CSPath:     sec.Key("cs.path").String(),
		CSSelect:   sec.Key("cs.select").String(),

		APIPort: sec.Key("api.port").MustInt(DefaultAPIPort),

		LogEnable: sec.Key("log.enable").MustBool(true),
		LogFile:   sec.Key("log.file").String(),
		LogLevel:  sec.Key("log.level").MustInt(1),
	}

	c.ModeBlacklist = parseBlacklistRates(sec.Key("mode.blacklist.rates").String())
	return c
}

// splitList splits a whitespace-separated config value into its tokens,
// matching strlist_load's tokenizer. An empty value yields a nil slice.
func splitList(s string) []string {
	return strings.Fields(s)
}

// parseBlacklistRates parses a whitespace-separated list of decimal
// framerates (e.g. "23.976 29.97 59.94") into 24.8 fixed-point values,
// matching blacklist_rates_load. Tokens outside [1,1000] or that don't
// parse as a number are silently skipped, exactly as the original does.
// The original also caps the list at a fixed array size (10); Go's slice
// has no such cap, so it is not reproduced here.
func parseBlacklistRates(s string) []int {
	var out []int
	for _, tok := range strings.Fields(s) {
		rate, err := strconv.ParseFloat(tok, 64)
		if err != nil || rate < 1 || rate > 1000 {
			continue
		}
		out = append(out, int(256*rate+0.5))
	}
	return out
}
