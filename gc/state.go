package gc

import "strings"

// WeakRootState gates access to weak root tables across collection phases.
type WeakRootState int

const (
	// WeakRootStateNormal allows reads and writes of weak roots.
	WeakRootStateNormal WeakRootState = iota
	// WeakRootStateNoReadsOrWrites is set from the start of marking until
	// system weaks have been swept. Readers must wait.
	WeakRootStateNoReadsOrWrites
	// WeakRootStateMarkNewRoots allows access; newly created weak roots are
	// expected to be marked by the collector.
	WeakRootStateMarkNewRoots
)

func (s WeakRootState) String() string {
	switch s {
	case WeakRootStateNormal:
		return "normal"
	case WeakRootStateNoReadsOrWrites:
		return "no-reads-or-writes"
	case WeakRootStateMarkNewRoots:
		return "mark-new-roots"
	default:
		return "invalid"
	}
}

// Accessible reports whether weak roots may be read or written in state s.
func (s WeakRootState) Accessible() bool {
	return s != WeakRootStateNoReadsOrWrites
}

// VisitRootFlags select which roots a VisitRoots call reports and how the
// new-root log is maintained.
type VisitRootFlags uint8

const (
	// VisitRootFlagAllRoots visits every strong root.
	VisitRootFlagAllRoots VisitRootFlags = 1 << iota
	// VisitRootFlagNewRoots visits only roots logged since the log was last
	// cleared.
	VisitRootFlagNewRoots
	VisitRootFlagStartLoggingNewRoots
	VisitRootFlagStopLoggingNewRoots
	VisitRootFlagClearRootLog
	// VisitRootFlagWeakRoots additionally visits every weak root.
	VisitRootFlagWeakRoots
)

func (f VisitRootFlags) Has(flag VisitRootFlags) bool {
	return f&flag != 0
}

func (f VisitRootFlags) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		flag VisitRootFlags
		name string
	}{
		{VisitRootFlagAllRoots, "all"},
		{VisitRootFlagNewRoots, "new"},
		{VisitRootFlagStartLoggingNewRoots, "start-logging"},
		{VisitRootFlagStopLoggingNewRoots, "stop-logging"},
		{VisitRootFlagClearRootLog, "clear-log"},
		{VisitRootFlagWeakRoots, "weak"},
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
