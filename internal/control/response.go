// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"encoding/json"

	"github.com/wingedpig/sessionmux/internal/policy"
)

// Response is an outbound control_response line.
type Response struct {
	Type     string           `json:"type"`
	Response ResponseEnvelope `json:"response"`
}

// ResponseEnvelope addresses a permission result to its request.
type ResponseEnvelope struct {
	Subtype   string           `json:"subtype"`
	RequestID string           `json:"request_id"`
	Response  PermissionResult `json:"response"`
}

// PermissionResult is the decision itself.
type PermissionResult struct {
	Behavior           string             `json:"behavior"`
	UpdatedInput       json.RawMessage    `json:"updatedInput,omitempty"`
	ToolUseID          string             `json:"toolUseID,omitempty"`
	UpdatedPermissions []PermissionUpdate `json:"updatedPermissions,omitempty"`
	Message            string             `json:"message,omitempty"`
	Interrupt          bool               `json:"interrupt,omitempty"`
}

// PermissionUpdate asks the subprocess to add rules to its own allow list.
type PermissionUpdate struct {
	Type        string      `json:"type"`
	Rules       []RuleValue `json:"rules"`
	Behavior    string      `json:"behavior"`
	Destination string      `json:"destination"`
}

// RuleValue is one rule in a PermissionUpdate.
type RuleValue struct {
	ToolName    string `json:"toolName"`
	RuleContent string `json:"ruleContent,omitempty"`
}

const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// NewAllow builds an allow response echoing the request's input. A non-nil
// rule is attached as a session permission update.
func NewAllow(req PendingRequest, rule *policy.Rule) Response {
	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	result := PermissionResult{
		Behavior:     BehaviorAllow,
		UpdatedInput: input,
		ToolUseID:    req.ToolUseID,
	}
	if rule != nil {
		result.UpdatedPermissions = []PermissionUpdate{{
			Type:        "addRules",
			Rules:       []RuleValue{{ToolName: rule.Tool, RuleContent: rule.Pattern}},
			Behavior:    BehaviorAllow,
			Destination: "session",
		}}
	}
	return newResponse(req.RequestID, result)
}

// NewDeny builds a deny response. interrupt asks the subprocess to stop the
// turn rather than continue without the tool.
func NewDeny(req PendingRequest, message string, interrupt bool) Response {
	if message == "" {
		message = "User denied permission to use " + req.ToolName
	}
	return newResponse(req.RequestID, PermissionResult{
		Behavior:  BehaviorDeny,
		Message:   message,
		Interrupt: interrupt,
	})
}

func newResponse(requestID string, result PermissionResult) Response {
	return Response{
		Type: "control_response",
		Response: ResponseEnvelope{
			Subtype:   "success",
			RequestID: requestID,
			Response:  result,
		},
	}
}
