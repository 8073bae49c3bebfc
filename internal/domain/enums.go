package domain

type EvalState string

const (
	StateUnknown  EvalState = "UNKNOWN"
	StateInQueue  EvalState = "INQUEUE"
	StateActive   EvalState = "ACTIVE"
	StateDue      EvalState = "DUE"
	StateClosed   EvalState = "CLOSED"
	StateViewable EvalState = "VIEWABLE"
)

func (s EvalState) IsValid() bool {
	switch s {
	case StateInQueue, StateActive, StateDue, StateClosed, StateViewable:
		return true
	default:
		return false
	}
}

func ToEvalState(state string) EvalState {
	switch state {
	case "INQUEUE":
		return StateInQueue
	case "ACTIVE":
		return StateActive
	case "DUE":
		return StateDue
	case "CLOSED":
		return StateClosed
	case "VIEWABLE":
		return StateViewable
	default:
		return StateUnknown
	}
}

// ActionKind is the closed set of delayed action types. The dispatcher
// switches over it exhaustively, so adding a kind is a compile-visible change.
type ActionKind string

const (
	ActionBecomeActive              ActionKind = "become-active"
	ActionBecomeDue                 ActionKind = "become-due"
	ActionBecomeClosed              ActionKind = "become-closed"
	ActionBecomeViewable            ActionKind = "become-viewable"
	ActionReminder                  ActionKind = "reminder"
	ActionNotifyInstructorsViewable ActionKind = "notify-instructors-viewable"
	ActionNotifyStudentsViewable    ActionKind = "notify-students-viewable"
)

// AllActionKinds lists every kind, for bulk cancellation paths.
var AllActionKinds = []ActionKind{
	ActionBecomeActive,
	ActionBecomeDue,
	ActionBecomeClosed,
	ActionBecomeViewable,
	ActionReminder,
	ActionNotifyInstructorsViewable,
	ActionNotifyStudentsViewable,
}

func (k ActionKind) IsValid() bool {
	switch k {
	case ActionBecomeActive, ActionBecomeDue, ActionBecomeClosed, ActionBecomeViewable,
		ActionReminder, ActionNotifyInstructorsViewable, ActionNotifyStudentsViewable:
		return true
	default:
		return false
	}
}

// TargetState is the persisted state a transition kind moves an evaluation to.
// Side-effect-only kinds return StateUnknown and false.
func (k ActionKind) TargetState() (EvalState, bool) {
	switch k {
	case ActionBecomeActive:
		return StateActive, true
	case ActionBecomeDue:
		return StateDue, true
	case ActionBecomeClosed:
		return StateClosed, true
	case ActionBecomeViewable:
		return StateViewable, true
	default:
		return StateUnknown, false
	}
}
