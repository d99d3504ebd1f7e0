// Package policy evaluates join admission with an OPA rego policy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_policy.decision"),
		rego.Module("chat_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// JoinInput describes a join attempt. Password checks are resolved by the
// caller; the policy only decides which outcome applies.
type JoinInput struct {
	SessionStatus        string
	PasswordProtected    bool
	RequireUserPassword  bool
	DisableUserPassword  bool
	SessionPasswordOK    bool
	UserPasswordSet      bool
	UserPasswordOK       bool
	UserPasswordProvided bool
}

func (in JoinInput) toMap() map[string]interface{} {
	return map[string]interface{}{
		"session": map[string]interface{}{
			"status":                in.SessionStatus,
			"password_protected":    in.PasswordProtected,
			"require_user_password": in.RequireUserPassword,
			"disable_user_password": in.DisableUserPassword,
		},
		"credentials": map[string]interface{}{
			"session_password_ok":    in.SessionPasswordOK,
			"user_password_set":      in.UserPasswordSet,
			"user_password_ok":       in.UserPasswordOK,
			"user_password_provided": in.UserPasswordProvided,
		},
	}
}

// Decision is the outcome of a join evaluation.
type Decision struct {
	Allow  bool
	Reason string
}

// EvaluateJoin decides whether a join may proceed.
func (e *Engine) EvaluateJoin(ctx context.Context, input JoinInput) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input.toMap()))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy returned no decision")
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected decision type %T", results[0].Expressions[0].Value)
	}
	allow, _ := obj["allow"].(bool)
	reason, _ := obj["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}

// DefaultPolicy is the default join admission policy.
const DefaultPolicy = `
package chat_policy

import rego.v1

default decision := {"allow": true, "reason": ""}

decision := {"allow": false, "reason": "Session has ended"} if {
	input.session.status == "ended"
} else := {"allow": false, "reason": "Invalid session password"} if {
	input.session.password_protected
	not input.credentials.session_password_ok
} else := {"allow": false, "reason": "Invalid user password"} if {
	not input.session.disable_user_password
	input.credentials.user_password_set
	not input.credentials.user_password_ok
} else := {"allow": false, "reason": "User password required"} if {
	not input.session.disable_user_password
	input.session.require_user_password
	not input.credentials.user_password_set
	not input.credentials.user_password_provided
}
`
