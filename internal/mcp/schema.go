// Package mcp provides an MCP (Model Context Protocol) server for inspecting
// stored epistate runs.
package mcp

import (
	"time"

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
)

// RunsInput defines the input for the epistate_runs tool.
type RunsInput struct{}

// RunsOutput defines the output for the epistate_runs tool.
type RunsOutput struct {
	Runs  []RunItem `json:"runs" jsonschema:"Stored simulation runs, newest first"`
	Count int       `json:"count" jsonschema:"Number of runs"`
}

// RunItem provides a list view of a run.
type RunItem struct {
	ID        string    `json:"id"`
	Seed      uint64    `json:"seed"`
	Scenario  string    `json:"scenario,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Snapshots []int     `json:"snapshots" jsonschema:"Days of the stored snapshots"`
}

// SummaryInput defines the input for the epistate_summary tool.
type SummaryInput struct {
	RunID string `json:"run_id" jsonschema:"Run to summarize"`
	Day   *int   `json:"day,omitempty" jsonschema:"Snapshot day; the latest snapshot when omitted"`
}

// SummaryOutput defines the output for the epistate_summary tool.
type SummaryOutput struct {
	RunID      string         `json:"run_id"`
	Day        int            `json:"day" jsonschema:"Next day the snapshot would simulate"`
	Persons    int            `json:"persons"`
	Statuses   map[string]int `json:"statuses" jsonschema:"Persons per disease status"`
	Quarantine map[string]int `json:"quarantine" jsonschema:"Persons per quarantine status"`
	Infections map[string]int `json:"infections" jsonschema:"Infections so far per strain"`
	Vaccinated int            `json:"vaccinated"`
	Boosted    int            `json:"boosted"`
}

// PersonInput defines the input for the epistate_person tool.
type PersonInput struct {
	RunID    string `json:"run_id" jsonschema:"Run the person belongs to"`
	PersonID string `json:"person_id" jsonschema:"Person to show"`
	Day      *int   `json:"day,omitempty" jsonschema:"Snapshot day; the latest snapshot when omitted"`
}

// PersonOutput defines the output for the epistate_person tool.
type PersonOutput struct {
	Day        int                   `json:"day"`
	Person     models.PersonSnapshot `json:"person"`
	Antibodies map[string]float64    `json:"antibodies" jsonschema:"Antibody level per strain on the last simulated day"`
}

// EventsInput defines the input for the epistate_events tool.
type EventsInput struct {
	RunID    string   `json:"run_id" jsonschema:"Run whose events to list"`
	Kinds    []string `json:"kinds,omitempty" jsonschema:"Event kinds to include"`
	PersonID string   `json:"person_id,omitempty" jsonschema:"Only events of this person"`
	FromDay  int      `json:"from_day,omitempty"`
	ToDay    int      `json:"to_day,omitempty" jsonschema:"Last day, inclusive; no bound when zero"`
	Limit    int      `json:"limit,omitempty" jsonschema:"Maximum number of events (default 100)"`
}

// EventsOutput defines the output for the epistate_events tool.
type EventsOutput struct {
	Events []events.Event `json:"events"`
	Count  int            `json:"count"`
}

// ImmunizationItem is one infection or vaccination of a hypothetical history.
type ImmunizationItem struct {
	Day     int    `json:"day"`
	Strain  string `json:"strain,omitempty" jsonschema:"Strain of an infection"`
	Vaccine string `json:"vaccine,omitempty" jsonschema:"Vaccine type of a vaccination"`
}

// AntibodyInput defines the input for the epistate_antibody tool.
type AntibodyInput struct {
	History []ImmunizationItem `json:"history" jsonschema:"Infections and vaccinations in any order"`
	Day     int                `json:"day" jsonschema:"Day to evaluate the levels on"`
}

// AntibodyOutput defines the output for the epistate_antibody tool.
type AntibodyOutput struct {
	Levels map[string]float64 `json:"levels" jsonschema:"Relative antibody level per strain"`
	// Protection is 1 - 1/(1+level^beta) per strain.
	Protection map[string]float64 `json:"protection" jsonschema:"Share of infection risk removed per strain"`
}

// ExportInput defines the input for the epistate_export tool.
type ExportInput struct {
	RunID string `json:"run_id" jsonschema:"Run to export"`
	Day   *int   `json:"day,omitempty" jsonschema:"Snapshot day; the latest when omitted"`
	// OutputPath must lie inside an allowed snapshot directory.
	OutputPath string `json:"output_path,omitempty" jsonschema:"Destination file; defaults to ~/.epistate/snapshots/<run>-day<N>.epi"`
}

// ExportOutput defines the output for the epistate_export tool.
type ExportOutput struct {
	Path    string `json:"path"`
	RunID   string `json:"run_id"`
	Day     int    `json:"day"`
	Persons int    `json:"persons"`
}
