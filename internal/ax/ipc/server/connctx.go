package server

import (
	"strconv"
	"strings"
)

// ConnContext is the per-connection identity: {sessionId, agentId}, with
// agentId optionally encoding delegation depth as a "…:depth=N" suffix.
type ConnContext struct {
	SessionID       string
	AgentID         string
	DelegationDepth int
}

// ParseAgentID splits an agentId of the form "base:depth=N" into its base
// name and delegation depth. An agentId with no depth suffix parses as
// depth 0 (the root session, never itself a delegated child).
func ParseAgentID(agentID string) (base string, depth int) {
	idx := strings.LastIndex(agentID, ":depth=")
	if idx == -1 {
		return agentID, 0
	}
	n, err := strconv.Atoi(agentID[idx+len(":depth="):])
	if err != nil {
		return agentID, 0
	}
	return agentID[:idx], n
}

// NewConnContext builds a ConnContext from a raw agentId, parsing its
// delegation depth suffix.
func NewConnContext(sessionID, rawAgentID string) ConnContext {
	base, depth := ParseAgentID(rawAgentID)
	return ConnContext{SessionID: sessionID, AgentID: base, DelegationDepth: depth}
}
