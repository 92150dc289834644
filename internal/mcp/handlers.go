package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/immunity"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/pathutil"
	"github.com/nvandessel/epistate/internal/snapshot"
	"github.com/nvandessel/epistate/internal/store"
)

const (
	toolRuns     = "epistate_runs"
	toolSummary  = "epistate_summary"
	toolPerson   = "epistate_person"
	toolEvents   = "epistate_events"
	toolAntibody = "epistate_antibody"
	toolExport   = "epistate_export"

	runURIPrefix = "epistate://runs/"

	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// registerTools registers all epistate MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolRuns,
		Description: "List stored simulation runs and the days of their snapshots",
	}, s.handleRuns)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolSummary,
		Description: "Summarize a run snapshot: persons per disease and quarantine status, infections per strain, vaccinations",
	}, s.handleSummary)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolPerson,
		Description: "Show the full state of one person in a run snapshot, including antibody levels",
	}, s.handlePerson)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolEvents,
		Description: "List state-change events of a run filtered by kind, person and day range",
	}, s.handleEvents)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolAntibody,
		Description: "Compute antibody levels and protection per strain for a hypothetical infection and vaccination history",
	}, s.handleAntibody)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolExport,
		Description: "Write a stored run snapshot to a snapshot file that `epistate run --from` can resume",
	}, s.handleExport)

	return nil
}

// registerResources exposes run summaries as markdown.
func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: runURIPrefix + "{id}",
		Name:        "epistate-run",
		Description: "Summary of the latest snapshot of a run.",
		MIMEType:    "text/markdown",
	}, s.handleRunResource)
}

func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() { s.auditTool(toolRuns, start, retErr, nil) }()

	runs, err := s.store.Runs(ctx)
	if err != nil {
		return nil, RunsOutput{}, fmt.Errorf("failed to list runs: %w", err)
	}

	items := make([]RunItem, 0, len(runs))
	for _, r := range runs {
		infos, err := s.store.Snapshots(ctx, r.ID)
		if err != nil {
			return nil, RunsOutput{}, fmt.Errorf("failed to list snapshots of %s: %w", r.ID, err)
		}
		days := make([]int, len(infos))
		for i, info := range infos {
			days[i] = info.Day
		}
		slices.Sort(days)
		items = append(items, RunItem{
			ID:        r.ID,
			Seed:      r.Seed,
			Scenario:  r.Scenario,
			CreatedAt: r.CreatedAt,
			Snapshots: days,
		})
	}
	return nil, RunsOutput{Runs: items, Count: len(items)}, nil
}

func (s *Server) handleSummary(ctx context.Context, req *sdk.CallToolRequest, args SummaryInput) (_ *sdk.CallToolResult, _ SummaryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolSummary, start, retErr, map[string]any{"run_id": args.RunID, "day": dayParam(args.Day)})
	}()

	if err := s.limiters.check(toolSummary); err != nil {
		return nil, SummaryOutput{}, err
	}
	st, err := s.state(ctx, args.RunID, args.Day)
	if err != nil {
		return nil, SummaryOutput{}, err
	}
	return nil, summarize(st), nil
}

func (s *Server) handlePerson(ctx context.Context, req *sdk.CallToolRequest, args PersonInput) (_ *sdk.CallToolResult, _ PersonOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolPerson, start, retErr, map[string]any{"run_id": args.RunID, "person_id": args.PersonID, "day": dayParam(args.Day)})
	}()

	if err := s.limiters.check(toolPerson); err != nil {
		return nil, PersonOutput{}, err
	}
	if args.PersonID == "" {
		return nil, PersonOutput{}, errors.New("'person_id' parameter is required")
	}
	st, err := s.state(ctx, args.RunID, args.Day)
	if err != nil {
		return nil, PersonOutput{}, err
	}
	p, ok := st.Person(args.PersonID)
	if !ok {
		return nil, PersonOutput{}, fmt.Errorf("person %s not found in run %s", args.PersonID, args.RunID)
	}

	day := max(st.Day-1, 0)
	levels := s.immunity.Levels(p.Infections, p.Vaccinations, day)
	return nil, PersonOutput{
		Day:        day,
		Person:     p,
		Antibodies: byStrainName(levels[:]),
	}, nil
}

func (s *Server) handleEvents(ctx context.Context, req *sdk.CallToolRequest, args EventsInput) (_ *sdk.CallToolResult, _ EventsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolEvents, start, retErr, map[string]any{
			"run_id": args.RunID, "kinds": strings.Join(args.Kinds, ","), "person_id": args.PersonID,
			"from_day": args.FromDay, "to_day": args.ToDay, "limit": args.Limit,
		})
	}()

	if err := s.limiters.check(toolEvents); err != nil {
		return nil, EventsOutput{}, err
	}
	if args.RunID == "" {
		return nil, EventsOutput{}, errors.New("'run_id' parameter is required")
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	limit = min(limit, maxEventLimit)

	kinds := make([]events.Kind, len(args.Kinds))
	for i, k := range args.Kinds {
		kinds[i] = events.Kind(k)
	}
	evs, err := s.store.Events(ctx, store.EventFilter{
		RunID:    args.RunID,
		Kinds:    kinds,
		PersonID: args.PersonID,
		FromDay:  args.FromDay,
		ToDay:    args.ToDay,
		Limit:    limit,
	})
	if err != nil {
		return nil, EventsOutput{}, fmt.Errorf("failed to query events: %w", err)
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return nil, EventsOutput{Events: evs, Count: len(evs)}, nil
}

func (s *Server) handleAntibody(ctx context.Context, req *sdk.CallToolRequest, args AntibodyInput) (_ *sdk.CallToolResult, _ AntibodyOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolAntibody, start, retErr, map[string]any{"day": args.Day, "history": len(args.History)})
	}()

	if err := s.limiters.check(toolAntibody); err != nil {
		return nil, AntibodyOutput{}, err
	}

	var infections []models.Infection
	var vaccinations []models.Vaccination
	for i, item := range args.History {
		switch {
		case item.Strain != "" && item.Vaccine == "":
			strain, err := models.ParseVirusStrain(item.Strain)
			if err != nil {
				return nil, AntibodyOutput{}, fmt.Errorf("history[%d]: %w", i, err)
			}
			infections = append(infections, models.Infection{Day: item.Day, Strain: strain})
		case item.Vaccine != "" && item.Strain == "":
			v, err := models.ParseVaccinationType(item.Vaccine)
			if err != nil {
				return nil, AntibodyOutput{}, fmt.Errorf("history[%d]: %w", i, err)
			}
			if v.IsNatural() {
				return nil, AntibodyOutput{}, fmt.Errorf("history[%d]: %s is not a vaccine", i, v)
			}
			vaccinations = append(vaccinations, models.Vaccination{Day: item.Day, Type: v, Booster: len(vaccinations) > 0})
		default:
			return nil, AntibodyOutput{}, fmt.Errorf("history[%d]: set exactly one of strain and vaccine", i)
		}
	}

	levels := s.immunity.Levels(infections, vaccinations, args.Day)
	protection := make([]float64, len(levels))
	for i, l := range levels {
		protection[i] = 1 - immunity.Factor(l, s.beta)
	}
	return nil, AntibodyOutput{
		Levels:     byStrainName(levels[:]),
		Protection: byStrainName(protection),
	}, nil
}

func (s *Server) handleExport(ctx context.Context, req *sdk.CallToolRequest, args ExportInput) (_ *sdk.CallToolResult, _ ExportOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolExport, start, retErr, map[string]any{"run_id": args.RunID, "day": dayParam(args.Day)})
	}()

	if err := s.limiters.check(toolExport); err != nil {
		return nil, ExportOutput{}, err
	}
	if len(s.snapshotDirs) == 0 {
		return nil, ExportOutput{}, errors.New("snapshot export is disabled")
	}
	st, err := s.state(ctx, args.RunID, args.Day)
	if err != nil {
		return nil, ExportOutput{}, err
	}

	path := args.OutputPath
	if path == "" {
		path = filepath.Join(s.snapshotDirs[0], snapshot.FileName(st.RunID, st.Day))
	}
	if err := pathutil.ValidatePath(path, s.snapshotDirs); err != nil {
		return nil, ExportOutput{}, err
	}
	if err := snapshot.Write(path, st); err != nil {
		return nil, ExportOutput{}, fmt.Errorf("failed to write snapshot to %s: %w", pathutil.RedactPath(path), err)
	}
	return nil, ExportOutput{Path: path, RunID: st.RunID, Day: st.Day, Persons: len(st.Persons)}, nil
}

func (s *Server) handleRunResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	runID := strings.TrimPrefix(uri, runURIPrefix)
	if !strings.HasPrefix(uri, runURIPrefix) || runID == "" {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	st, err := s.store.LatestSnapshot(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     renderSummary(summarize(st)),
		}},
	}, nil
}

// state loads the snapshot of day, or the latest one when day is nil.
func (s *Server) state(ctx context.Context, runID string, day *int) (*snapshot.State, error) {
	if runID == "" {
		return nil, errors.New("'run_id' parameter is required")
	}
	var (
		st  *snapshot.State
		err error
	)
	if day == nil {
		st, err = s.store.LatestSnapshot(ctx, runID)
	} else {
		st, err = s.store.LoadSnapshot(ctx, runID, *day)
	}
	if err != nil {
		return nil, fmt.Errorf("no snapshot of run %s: %w", runID, err)
	}
	return st, nil
}

func summarize(st *snapshot.State) SummaryOutput {
	out := SummaryOutput{
		RunID:      st.RunID,
		Day:        st.Day,
		Persons:    len(st.Persons),
		Statuses:   make(map[string]int),
		Quarantine: make(map[string]int),
		Infections: make(map[string]int),
	}
	for status, n := range st.Counts() {
		out.Statuses[string(status)] = n
	}
	for _, p := range st.Persons {
		out.Quarantine[string(p.Quarantine)]++
		for _, inf := range p.Infections {
			out.Infections[inf.Strain.String()]++
		}
		if len(p.Vaccinations) > 0 {
			out.Vaccinated++
		}
		if len(p.Vaccinations) > 1 {
			out.Boosted++
		}
	}
	return out
}

func renderSummary(sum SummaryOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", sum.RunID)
	fmt.Fprintf(&b, "Snapshot before day %d, %d persons, %d vaccinated, %d boosted.\n\n", sum.Day, sum.Persons, sum.Vaccinated, sum.Boosted)

	b.WriteString("| Status | Persons |\n|---|---|\n")
	for _, status := range models.DiseaseStatuses {
		fmt.Fprintf(&b, "| %s | %d |\n", status, sum.Statuses[string(status)])
	}

	if len(sum.Infections) > 0 {
		b.WriteString("\n| Strain | Infections |\n|---|---|\n")
		for _, strain := range models.Strains() {
			if n := sum.Infections[strain.String()]; n > 0 {
				fmt.Fprintf(&b, "| %s | %d |\n", strain, n)
			}
		}
	}
	return b.String()
}

func byStrainName(values []float64) map[string]float64 {
	out := make(map[string]float64, len(values))
	for i, v := range values {
		out[models.VirusStrain(i).String()] = v
	}
	return out
}

func dayParam(day *int) string {
	if day == nil {
		return "latest"
	}
	return fmt.Sprint(*day)
}
