package entrepreneurs

// ReportState is the lifecycle state of an embedded Report.
type ReportState string

const (
	StatePending    ReportState = "pendiente"
	StateProcessing ReportState = "procesando"
	StateCompleted  ReportState = "completado"
	StateError      ReportState = "error"
)

// Valid reports whether s is one of the four known states.
func (s ReportState) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateError:
		return true
	default:
		return false
	}
}

// Terminal reports whether no automatic transition leaves s.
func (s ReportState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// CanTransition reports whether the analysis lifecycle permits from -> to.
// Any state may be reset to processing (first trigger or regenerate); only
// processing may resolve to a terminal state. Nothing returns to pending.
func CanTransition(from, to ReportState) bool {
	if from == "" {
		from = StatePending
	}
	switch to {
	case StateProcessing:
		return from.Valid()
	case StateCompleted, StateError:
		return from == StateProcessing
	default:
		return false
	}
}

// Normalize returns the state to expose for a stored value. Records written
// before the report existed read as pending.
func (s ReportState) Normalize() ReportState {
	if s == "" {
		return StatePending
	}
	return s
}

// ProcessingReport returns a processing report with no result or error.
func ProcessingReport() Report {
	return Report{State: StateProcessing}
}
