package domain

// GenomicState is a member's position in the genomic pipeline.
type GenomicState string

// Lifecycle states. IGNORE and CONTROL_SAMPLE are absorbing and only reachable
// through an operator override.
const (
	StateAW0Ready              GenomicState = "AW0_READY"
	StateAW0                   GenomicState = "AW0"
	StateAW1                   GenomicState = "AW1"
	StateAW1FPre               GenomicState = "AW1F_PRE"
	StateAW1FPost              GenomicState = "AW1F_POST"
	StateAW2                   GenomicState = "AW2"
	StateAW2Missing            GenomicState = "AW2_MISSING"
	StateAW2Fail               GenomicState = "AW2_FAIL"
	StateGEMReady              GenomicState = "GEM_READY"
	StateA1                    GenomicState = "A1"
	StateA2                    GenomicState = "A2"
	StateA2F                   GenomicState = "A2F"
	StateGEMReportReady        GenomicState = "GEM_RPT_READY"
	StateGEMReportPendingDelete GenomicState = "GEM_RPT_PENDING_DELETE"
	StateGEMReportDeleted      GenomicState = "GEM_RPT_DELETED"
	StateCVLReady              GenomicState = "CVL_READY"
	StateW1                    GenomicState = "W1"
	StateW2                    GenomicState = "W2"
	StateW3                    GenomicState = "W3"
	StateIgnore                GenomicState = "IGNORE"
	StateControlSample         GenomicState = "CONTROL_SAMPLE"
)

// Signal is an event that may advance a member's state.
type Signal string

const (
	SignalManifestGenerated   Signal = "manifest-generated"
	SignalAW1Reconciled       Signal = "aw1-reconciled"
	SignalAW1Failed           Signal = "aw1-failed"
	SignalAW2                 Signal = "aw2"
	SignalMissing             Signal = "missing"
	SignalFail                Signal = "fail"
	SignalCVLReady            Signal = "cvl-ready"
	SignalGEMReady            Signal = "gem-ready"
	SignalA2GEMPass           Signal = "a2-gem-pass"
	SignalA2GEMFail           Signal = "a2-gem-fail"
	SignalReportReady         Signal = "report-ready"
	SignalReportPendingDelete Signal = "report-pending-delete"
	SignalReportDeleted       Signal = "report-deleted"
	SignalW2IngestionSuccess  Signal = "w2-ingestion-success"
)

var transitions = map[GenomicState]map[Signal]GenomicState{
	StateAW0Ready: {SignalManifestGenerated: StateAW0},
	StateAW0: {
		SignalAW1Reconciled: StateAW1,
		SignalAW1Failed:     StateAW1FPre,
	},
	StateAW1: {
		SignalAW1Failed: StateAW1FPost,
		SignalAW2:       StateAW2,
	},
	StateAW2: {
		SignalMissing:  StateAW2Missing,
		SignalFail:     StateAW2Fail,
		SignalCVLReady: StateCVLReady,
		SignalGEMReady: StateGEMReady,
	},
	StateAW2Missing: {
		SignalCVLReady: StateCVLReady,
		SignalGEMReady: StateGEMReady,
		SignalFail:     StateAW2Fail,
	},
	StateGEMReady: {SignalManifestGenerated: StateA1},
	StateA1: {
		SignalA2GEMPass: StateA2,
		SignalA2GEMFail: StateA2F,
	},
	StateA2:             {SignalReportReady: StateGEMReportReady},
	StateGEMReportReady: {SignalReportPendingDelete: StateGEMReportPendingDelete},
	StateGEMReportPendingDelete: {
		SignalReportDeleted: StateGEMReportDeleted,
		SignalReportReady:   StateGEMReportReady,
	},
	StateGEMReportDeleted: {SignalReportReady: StateGEMReportReady},
	StateCVLReady:         {SignalManifestGenerated: StateW1},
	StateW1:               {SignalW2IngestionSuccess: StateW2},
	StateW2:               {SignalManifestGenerated: StateW3},
}

var allStates = []GenomicState{
	StateAW0Ready, StateAW0, StateAW1, StateAW1FPre, StateAW1FPost,
	StateAW2, StateAW2Missing, StateAW2Fail, StateGEMReady, StateA1, StateA2,
	StateA2F, StateGEMReportReady, StateGEMReportPendingDelete, StateGEMReportDeleted,
	StateCVLReady, StateW1, StateW2, StateW3, StateIgnore, StateControlSample,
}

var allSignals = []Signal{
	SignalManifestGenerated, SignalAW1Reconciled, SignalAW1Failed, SignalAW2,
	SignalMissing, SignalFail, SignalCVLReady, SignalGEMReady, SignalA2GEMPass,
	SignalA2GEMFail, SignalReportReady, SignalReportPendingDelete, SignalReportDeleted,
	SignalW2IngestionSuccess,
}

// Next returns the state reached from state on signal. Unmapped pairs return
// the input state and false.
func Next(state GenomicState, signal Signal) (GenomicState, bool) {
	next, ok := transitions[state][signal]
	if !ok {
		return state, false
	}
	return next, true
}

// CanReach reports whether a single signal moves from one state to the other.
func CanReach(from, to GenomicState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// States returns every lifecycle state in pipeline order.
func States() []GenomicState {
	out := make([]GenomicState, len(allStates))
	copy(out, allStates)
	return out
}

// Signals returns every known signal.
func Signals() []Signal {
	out := make([]Signal, len(allSignals))
	copy(out, allSignals)
	return out
}

// Valid reports whether the state is a known lifecycle state.
func (s GenomicState) Valid() bool {
	for _, known := range allStates {
		if s == known {
			return true
		}
	}
	return false
}

// Absorbing reports whether no signal can leave the state.
func (s GenomicState) Absorbing() bool {
	return s == StateIgnore || s == StateControlSample
}
