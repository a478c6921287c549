package auth

import (
	"strconv"
	"strings"

	"github.com/gatekit/gatekit/internal/model"
)

// Subject names a resource category that abilities are granted on.
type Subject string

const (
	SubjectAll    Subject = "ALL"
	SubjectUser   Subject = "USER"
	SubjectRole   Subject = "ROLE"
	SubjectAPIKey Subject = "API_KEY"
)

// Action is an operation on a subject. The zero value is reserved for
// unmapped codes and never matches anything.
type Action int

const (
	ActionInvalid Action = iota
	ActionManage
	ActionRead
	ActionCreate
	ActionUpdate
	ActionDelete
	ActionExport
	ActionImport
)

// actionNames is the fixed mapping between stored numeric action codes and
// actions. Codes outside the table resolve to ActionInvalid.
var actionNames = map[Action]string{
	ActionManage: "MANAGE",
	ActionRead:   "READ",
	ActionCreate: "CREATE",
	ActionUpdate: "UPDATE",
	ActionDelete: "DELETE",
	ActionExport: "EXPORT",
	ActionImport: "IMPORT",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "INVALID"
}

// ParseActionCodes resolves a comma-separated list of numeric action codes
// ("2,4") into actions. Unknown or unparsable codes resolve to ActionInvalid
// rather than erroring: the resulting rule can never be satisfied, which
// silently denies that specific action. Failing closed with an explicit
// error instead is an open product decision; until then the historical
// behavior stands.
func ParseActionCodes(codes string) []Action {
	parts := strings.Split(codes, ",")
	actions := make([]Action, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= int(ActionInvalid) || n > int(ActionImport) {
			actions = append(actions, ActionInvalid)
			continue
		}
		actions = append(actions, Action(n))
	}
	return actions
}

// Ability is a single (action, subject) authorization rule.
type Ability struct {
	Action  Action
	Subject Subject
}

// AbilitySet is the set of rules derived from one role.
type AbilitySet []Ability

// BuildAbilities derives the ability set for a role. A SUPER_ADMIN role gets
// the (MANAGE, ALL) wildcard and nothing else; every check passes through
// it. Regular roles get one rule per (grant, action-code) pair.
func BuildAbilities(roleType model.RoleType, grants []model.Permission) AbilitySet {
	if roleType == model.RoleSuperAdmin {
		return AbilitySet{{Action: ActionManage, Subject: SubjectAll}}
	}

	var set AbilitySet
	for _, g := range grants {
		subject := Subject(g.Subject)
		for _, action := range ParseActionCodes(g.Action) {
			set = append(set, Ability{Action: action, Subject: subject})
		}
	}
	return set
}

// Can reports whether the set authorizes action on subject. A rule matches
// exactly, via the MANAGE action wildcard, via the ALL subject wildcard, or
// both. ActionInvalid rules never match.
func (s AbilitySet) Can(action Action, subject Subject) bool {
	if action == ActionInvalid {
		return false
	}
	for _, rule := range s {
		if rule.Action == ActionInvalid {
			continue
		}
		actionOK := rule.Action == action || rule.Action == ActionManage
		subjectOK := rule.Subject == subject || rule.Subject == SubjectAll
		if actionOK && subjectOK {
			return true
		}
	}
	return false
}

// Requirement is one group of a route's policy declaration: every listed
// action must be authorized on the subject for the group to be satisfied.
type Requirement struct {
	Subject Subject
	Actions []Action
}

// Satisfies reports whether any requirement group is fully satisfied:
// AND within a group, OR across groups. An empty group list denies.
func (s AbilitySet) Satisfies(groups ...Requirement) bool {
	for _, g := range groups {
		if len(g.Actions) == 0 {
			continue
		}
		ok := true
		for _, action := range g.Actions {
			if !s.Can(action, g.Subject) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
