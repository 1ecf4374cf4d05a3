package flow

// Goal is the human-facing objective for one state and the state the agent
// expects to land in once the objective is met. Expected is Unknown when no
// firm expectation exists.
type Goal struct {
	Description string
	Expected    State
}

var goals = map[State]Goal{
	Start: {
		Description: "Find the account or subscription management page and open it",
		Expected:    Unknown,
	},
	LoginRequired: {
		Description: "Wait for the user to sign in, then continue to the account page",
		Expected:    AccountActive,
	},
	AccountActive: {
		Description: "Click the control that starts cancelling the subscription or membership",
		Expected:    RetentionOffer,
	},
	ThirdPartyBilling: {
		Description: "Identify which third party bills the subscription",
		Expected:    Unknown,
	},
	RetentionOffer: {
		Description: "Decline the retention offer and continue with the cancellation",
		Expected:    ExitSurvey,
	},
	ExitSurvey: {
		Description: "Complete or skip the exit survey and continue with the cancellation",
		Expected:    FinalConfirmation,
	},
	FinalConfirmation: {
		Description: "Click the button that finishes the cancellation",
		Expected:    Complete,
	},
}

var analyzeGoal = Goal{
	Description: "Analyze the page and take the single action that best advances the cancellation",
	Expected:    Unknown,
}

// GoalFor returns the static goal for s. States without an entry, UNKNOWN
// included, get the generic analyze-and-act goal.
func GoalFor(s State) Goal {
	if g, ok := goals[s]; ok {
		return g
	}
	return analyzeGoal
}
