package environment

// State is the position of a session in its lifecycle
type State int

const (
	StateIdle State = iota
	StateDirsReady
	StateFirstMounted
	StateStaged
	StateSecondMounted
	StateEtcPrepared
	StateLauncherCopied
	StateExecuted
	StateUnmounted
	StateDirsCleaned
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateDirsReady:      "dirs-ready",
	StateFirstMounted:   "first-mounted",
	StateStaged:         "staged",
	StateSecondMounted:  "second-mounted",
	StateEtcPrepared:    "etc-prepared",
	StateLauncherCopied: "launcher-copied",
	StateExecuted:       "executed",
	StateUnmounted:      "unmounted",
	StateDirsCleaned:    "dirs-cleaned",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Session is a snapshot of an emulation session
type Session struct {
	State       State
	FirstPhase  []string // Targets of established first-phase mounts
	SecondPhase []string // Targets of established second-phase mounts
	Executed    bool
	TornDown    bool
	Aborted     bool
}

// Mounted returns every established mount target
func (s Session) Mounted() []string {
	out := make([]string, 0, len(s.FirstPhase)+len(s.SecondPhase))
	out = append(out, s.FirstPhase...)
	return append(out, s.SecondPhase...)
}
