// Package throttle implements admission control: deciding whether a
// candidate file may be copied into quarantine given free-space headroom
// and daily/per-run throughput caps.
package throttle

// Dir identifies one of the directories the controller watches for free
// space.
type Dir string

// Watched directories.
const (
	DirDestination Dir = "destination"
	DirQuarantine  Dir = "quarantine"
	DirHazard      Dir = "hazard"
)

// Budget is the set of caps that gate admission. Any max field set to
// zero disables that particular cap ("pass" short-circuit).
type Budget struct {
	RunMaxFiles int64
	RunMaxBytes int64
	DayMaxFiles int64
	DayMaxBytes int64

	// MinFreeMB maps a watched directory to its minimum required free
	// space in megabytes. A directory absent from the map (or hazard
	// when hazard archiving is disabled) is not checked.
	MinFreeMB map[Dir]int64
}

// DailySnapshot is the portion of the daily tracker's totals relevant to
// admission decisions.
type DailySnapshot struct {
	Files int64
	Bytes int64
}

// RunSnapshot is the current run's own counters, including work already
// admitted but not yet disposed ("pending").
type RunSnapshot struct {
	Files        int64
	Bytes        int64
	PendingFiles int64
	PendingBytes int64
}

// Reason identifies why a candidate was rejected.
type Reason string

// Rejection reasons, one per decision-rule clause in the spec.
const (
	ReasonNone              Reason = ""
	ReasonNoSpaceDest       Reason = "NoSpaceDest"
	ReasonNoSpaceQuarantine Reason = "NoSpaceQuarantine"
	ReasonNoSpaceHazard     Reason = "NoSpaceHazard"
	ReasonDailyFileCap      Reason = "DailyFileCap"
	ReasonDailyByteCap      Reason = "DailyByteCap"
	ReasonRunFileCap        Reason = "RunFileCap"
	ReasonRunByteCap        Reason = "RunByteCap"
)

const bytesPerMB = 1024 * 1024

// reasonForDir maps a watched directory to the free-space rejection
// reason raised against it.
func reasonForDir(dir Dir) Reason {
	switch dir {
	case DirDestination:
		return ReasonNoSpaceDest
	case DirQuarantine:
		return ReasonNoSpaceQuarantine
	case DirHazard:
		return ReasonNoSpaceHazard
	default:
		return ReasonNone
	}
}
