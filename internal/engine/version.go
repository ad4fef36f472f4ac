package engine

// Version identifies this build, mirroring afrd.h's APP_VERSION/
// APP_VER_SFX split.
const (
	VersionMajor = 0
	VersionMinor = 3
	VersionMicro = 2
)

// VersionSuffix is the pre-release tag shown alongside the version
// triple, matching g_ver_sfx.
var VersionSuffix = "beta4"

// BuildDate is stamped at link time via -ldflags (e.g.
// -X github.com/ausocean/afrd/internal/engine.BuildDate=...), matching
// BDATE. It stays "unknown" in a plain build.
var BuildDate = "unknown"
