package model

// Action is a moderation verb requested against an entity.
type Action string

const (
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionInvestigate Action = "investigate"
	ActionResolve     Action = "resolve"
	ActionDismiss     Action = "dismiss"
	// ActionWithdraw is the only action available to the original submitter.
	ActionWithdraw Action = "withdraw"
)

// WithdrawNote is stored as the resolution note when a submitter withdraws
// without giving a reason.
const WithdrawNote = "withdrawn by submitter"

// Terminal states have no outgoing edges, which keeps every history monotonic.
var transitions = map[EntityKind]map[Status]map[Action]Status{
	EntityKindEvent: {
		StatusPending: {
			ActionApprove:  StatusApproved,
			ActionReject:   StatusRejected,
			ActionWithdraw: StatusRejected,
		},
	},
	EntityKindReport: {
		StatusPending: {
			ActionInvestigate: StatusInvestigating,
			ActionResolve:     StatusResolved,
			ActionDismiss:     StatusDismissed,
			ActionWithdraw:    StatusDismissed,
		},
		StatusInvestigating: {
			ActionResolve:  StatusResolved,
			ActionDismiss:  StatusDismissed,
			ActionWithdraw: StatusDismissed,
		},
	},
}

// NextStatus returns the status reached by applying action to an entity of
// the given kind in status from. ok is false for illegal edges.
func NextStatus(kind EntityKind, from Status, action Action) (to Status, ok bool) {
	to, ok = transitions[kind][from][action]
	return to, ok
}

// AllowedActions lists the actions that are legal from the given status.
func AllowedActions(kind EntityKind, from Status) []Action {
	edges := transitions[kind][from]
	actions := make([]Action, 0, len(edges))
	for _, a := range []Action{ActionApprove, ActionReject, ActionInvestigate, ActionResolve, ActionDismiss, ActionWithdraw} {
		if _, ok := edges[a]; ok {
			actions = append(actions, a)
		}
	}
	return actions
}
