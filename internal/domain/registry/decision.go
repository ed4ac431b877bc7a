package registry

// Scope names the rule under which a report read was allowed.
type Scope string

const (
	ScopeNone      Scope = ""
	ScopeSelf      Scope = "self"
	ScopeGranted   Scope = "granted"
	ScopeEmergency Scope = "emergency"
)

// DecisionInput is the state the decision engine needs for one read.
// CallerAccount and Grant are nil when absent.
type DecisionInput struct {
	Caller        string
	Patient       string
	CallerAccount *Account
	Grant         *Grant
}

// Decide applies the fixed precedence: self, then an active grant held by a
// doctor, then the emergency override for verified doctors, else no access.
func Decide(in DecisionInput) Scope {
	if in.Caller == in.Patient {
		return ScopeSelf
	}
	if !in.CallerAccount.IsDoctor() {
		return ScopeNone
	}
	if in.Grant.Active() && in.Grant.Patient == in.Patient && in.Grant.Doctor == in.Caller {
		return ScopeGranted
	}
	if in.CallerAccount.Verified {
		return ScopeEmergency
	}
	return ScopeNone
}

// Filter returns the reports visible under scope, preserving order.
func Filter(reports []Report, scope Scope) []ReportView {
	out := make([]ReportView, 0, len(reports))
	switch scope {
	case ScopeSelf, ScopeGranted:
		for _, r := range reports {
			out = append(out, r.View())
		}
	case ScopeEmergency:
		for _, r := range reports {
			if r.EmergencyFlag {
				out = append(out, r.View())
			}
		}
	}
	return out
}
