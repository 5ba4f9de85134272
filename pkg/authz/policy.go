package authz

import (
	"encoding/json"
	"fmt"
)

// FilterConnector joins the conditions within a filter group.
type FilterConnector string

const (
	ConnectorAnd FilterConnector = "and"
	ConnectorOr  FilterConnector = "or"
)

// FilterCondition is a leaf predicate. The engine carries field, operator and
// value opaquely; interpreting them against a data store is the caller's job.
type FilterCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// FilterGroup is a node in a boolean filter tree. Groups nest arbitrarily.
type FilterGroup struct {
	Connector  FilterConnector   `json:"connector"`
	Conditions []FilterCondition `json:"conditions,omitempty"`
	Groups     []FilterGroup     `json:"groups,omitempty"`
}

// ParsePolicy decodes a stored policy value into its filter groups. Empty or
// malformed input yields nil: a policy that cannot be parsed must behave as
// no policy, not as unrestricted access.
func ParsePolicy(raw string) []FilterGroup {
	if raw == "" {
		return nil
	}
	var groups []FilterGroup
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil
	}
	return groups
}

// EncodePolicy serializes filter groups for storage. An empty tree encodes
// to the empty string so the column stays comparable.
func EncodePolicy(groups []FilterGroup) (string, error) {
	if len(groups) == 0 {
		return "", nil
	}
	data, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy: %w", err)
	}
	return string(data), nil
}
