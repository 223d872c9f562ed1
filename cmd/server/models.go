package main

import (
	"github.com/liamcoop/witrules/collection"
	"github.com/liamcoop/witrules/internal/logger"
	"github.com/liamcoop/witrules/rules"
	"github.com/liamcoop/witrules/workitem"
)

// API request and response models

// CreateCollectionRequest represents the request body for creating a collection
type CreateCollectionRequest struct {
	Name string `json:"name" example:"DefaultCollection"`
}

// CollectionResponse represents a collection in API responses
type CollectionResponse struct {
	ID     string `json:"id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Name   string `json:"name" example:"DefaultCollection"`
	Fields int    `json:"fields" example:"12"`
}

// CollectionsListResponse represents the response for listing collections
type CollectionsListResponse struct {
	Collections []CollectionResponse `json:"collections"`
}

// RuleRequest is a rule row. Flags, when present, are flag names and replace
// the numeric flag words.
type RuleRequest struct {
	rules.Row
	Flags []string `json:"flags,omitempty" example:"DenyWrite,Unless,ThenLeaf"`
}

// toRow returns the row the request describes
func (r RuleRequest) toRow() (*rules.Row, error) {
	row := r.Row
	if r.Flags != nil {
		f1, f2, err := rules.ParseFlags(r.Flags)
		if err != nil {
			return nil, err
		}
		row.Flags1, row.Flags2 = f1, f2
	}
	return &row, nil
}

// RuleResponse represents a rule in API responses
type RuleResponse struct {
	rules.Row
	Flags []string `json:"flags"`
	Kind  string   `json:"kind" example:"denyWrite"`
}

func newRuleResponse(row *rules.Row) RuleResponse {
	flags := append(row.Flags1.Names(), row.Flags2.Names()...)
	if flags == nil {
		flags = []string{}
	}
	return RuleResponse{Row: *row, Flags: flags, Kind: rules.Decode(*row).Action.Kind()}
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules  []RuleResponse `json:"rules"`
	Filter string         `json:"filter,omitempty"`
}

// OpenRequest describes a work item to open. Fields default to the collection's
// field definitions; Values hold the loaded values keyed by field id.
type OpenRequest struct {
	ID     int                   `json:"id" example:"0"`
	AreaID int                   `json:"areaId" example:"7"`
	User   collection.User       `json:"user"`
	Fields []workitem.Definition `json:"fields,omitempty"`
	Values map[int]any           `json:"values,omitempty"`
}

// FieldChange is one user edit
type FieldChange struct {
	FieldID int `json:"fieldId" example:"2"`
	Value   any `json:"value" example:"Closed"`
}

// FieldChangedRequest opens a work item and applies edits in order
type FieldChangedRequest struct {
	OpenRequest
	Changes []FieldChange `json:"changes"`
}

// WorkItemResponse is the state of a work item after rules ran
type WorkItemResponse struct {
	ID             int                   `json:"id"`
	AreaID         int                   `json:"areaId"`
	Dirty          bool                  `json:"dirty"`
	InvalidFields  []int                 `json:"invalidFields"`
	AffectedFields []int                 `json:"affectedFields,omitempty"`
	Fields         []workitem.FieldState `json:"fields"`
}

func newWorkItemResponse(wi *workitem.WorkItem, affected []int) WorkItemResponse {
	invalid := wi.InvalidFields()
	if invalid == nil {
		invalid = []int{}
	}
	return WorkItemResponse{
		ID:             wi.ID(),
		AreaID:         wi.AreaID(),
		Dirty:          wi.IsDirty(),
		InvalidFields:  invalid,
		AffectedFields: affected,
		Fields:         wi.Snapshot(),
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"rule state not handled"`
	Details string `json:"details,omitempty"`
	RuleID  int    `json:"ruleId,omitempty" example:"42"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status            string       `json:"status" example:"healthy"`
	CollectionsLoaded int          `json:"collectionsLoaded"`
	Error             string       `json:"error,omitempty"`
	Counters          logger.Stats `json:"counters"`
}
