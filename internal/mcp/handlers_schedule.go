package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/internal/audit"
	"github.com/HyphaGroup/airops-go/internal/schedule"
	"github.com/HyphaGroup/airops-go/internal/validation"
)

// ScheduleParams is the unified params struct for the schedule tool
type ScheduleParams struct {
	Action string `json:"action" description:"create, list, get, update, delete, trigger or history" enum:"create,list,get,update,delete,trigger,history"`

	// For create/update
	Name            string                    `json:"name,omitempty"`
	CronExpr        string                    `json:"cron_expr,omitempty" description:"5-field cron expression or descriptor like @hourly"`
	App             string                    `json:"app,omitempty" description:"App name or id"`
	Version         *int                      `json:"version,omitempty"`
	Inputs          map[string]any            `json:"inputs,omitempty"`
	Enabled         *bool                     `json:"enabled,omitempty"`
	OverlapBehavior *schedule.OverlapBehavior `json:"overlap_behavior,omitempty" enum:"skip,parallel"`

	// For get, update, delete, trigger, history
	ScheduleID string `json:"schedule_id,omitempty"`

	// For history
	Limit int `json:"limit,omitempty"`
}

// ScheduleView is a schedule plus its upcoming run times
type ScheduleView struct {
	*schedule.Schedule
	Running  int         `json:"running,omitempty"`
	Upcoming []time.Time `json:"upcoming,omitempty"`
}

var scheduleActions = []string{"create", "list", "get", "update", "delete", "trigger", "history"}

// handleSchedule is the unified handler for the schedule tool
func (s *Server) handleSchedule(ctx context.Context, request *mcp.CallToolRequest, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	if params.Action == "" {
		return nil, nil, missingActionError("schedule", scheduleActions)
	}

	switch params.Action {
	case "create":
		return s.scheduleCreate(ctx, params)
	case "list":
		return s.scheduleList(ctx, params)
	case "get":
		return s.scheduleGet(ctx, params)
	case "update":
		return s.scheduleUpdate(ctx, params)
	case "delete":
		return s.scheduleDelete(ctx, params)
	case "trigger":
		return s.scheduleTrigger(ctx, params)
	case "history":
		return s.scheduleHistory(ctx, params)
	default:
		return nil, nil, actionError("schedule", params.Action, scheduleActions)
	}
}

func (s *Server) scheduleCreate(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	if params.Name == "" {
		return nil, nil, apperr.MissingParameter("name")
	}
	if params.CronExpr == "" {
		return nil, nil, apperr.MissingParameter("cron_expr")
	}
	appID, version, err := s.resolveApp(params.App)
	if err != nil {
		return nil, nil, err
	}
	if params.Version != nil {
		version = *params.Version
	}
	if params.Inputs != nil {
		if err := s.apps.ValidatePayload(appID, map[string]any{"inputs": params.Inputs}); err != nil {
			return nil, nil, err
		}
	}

	sched := &schedule.Schedule{
		Name:     params.Name,
		CronExpr: params.CronExpr,
		AppID:    appID,
		Version:  version,
		Inputs:   params.Inputs,
		Enabled:  true,
	}
	if params.Enabled != nil {
		sched.Enabled = *params.Enabled
	}
	if params.OverlapBehavior != nil {
		sched.OverlapBehavior = *params.OverlapBehavior
	}

	err = s.scheduleStore.Create(sched)
	s.recordAudit(ctx, audit.Event{
		Operation:  audit.OpScheduleCreate,
		AppID:      appID,
		ScheduleID: sched.ID,
		Details:    map[string]any{"cron_expr": params.CronExpr},
	}, err)
	if err != nil {
		return nil, nil, err
	}
	return nil, s.scheduleView(sched), nil
}

func (s *Server) scheduleList(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	filter := &schedule.ListFilter{Enabled: params.Enabled}
	if params.App != "" {
		appID, _, err := s.resolveApp(params.App)
		if err != nil {
			return nil, nil, err
		}
		filter.AppID = appID
	}

	schedules, err := s.scheduleStore.List(filter)
	if err != nil {
		return nil, nil, err
	}
	if schedules == nil {
		schedules = []*schedule.Schedule{}
	}
	return nil, map[string]any{"schedules": schedules, "count": len(schedules)}, nil
}

func (s *Server) scheduleGet(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	sched, err := s.lookupSchedule(params.ScheduleID)
	if err != nil {
		return nil, nil, err
	}
	return nil, s.scheduleView(sched), nil
}

func (s *Server) scheduleUpdate(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	if err := validation.ValidateScheduleID(params.ScheduleID); err != nil {
		return nil, nil, err
	}

	update := &schedule.ScheduleUpdate{
		Version:         params.Version,
		Inputs:          params.Inputs,
		Enabled:         params.Enabled,
		OverlapBehavior: params.OverlapBehavior,
	}
	if params.Name != "" {
		update.Name = &params.Name
	}
	if params.CronExpr != "" {
		update.CronExpr = &params.CronExpr
	}
	if params.App != "" {
		appID, _, err := s.resolveApp(params.App)
		if err != nil {
			return nil, nil, err
		}
		update.AppID = &appID
	}

	err := s.scheduleStore.Update(params.ScheduleID, update)
	s.recordAudit(ctx, audit.Event{Operation: audit.OpScheduleUpdate, ScheduleID: params.ScheduleID}, err)
	if err != nil {
		return nil, nil, err
	}

	sched, err := s.scheduleStore.Get(params.ScheduleID)
	if err != nil {
		return nil, nil, err
	}
	return nil, s.scheduleView(sched), nil
}

func (s *Server) scheduleDelete(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	if err := validation.ValidateScheduleID(params.ScheduleID); err != nil {
		return nil, nil, err
	}

	err := s.scheduleStore.Delete(params.ScheduleID)
	s.recordAudit(ctx, audit.Event{Operation: audit.OpScheduleDelete, ScheduleID: params.ScheduleID}, err)
	if err != nil {
		return nil, nil, err
	}
	return NewTextResult(fmt.Sprintf("Schedule %s deleted", params.ScheduleID)), nil, nil
}

func (s *Server) scheduleTrigger(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	sched, err := s.lookupSchedule(params.ScheduleID)
	if err != nil {
		return nil, nil, err
	}

	run := s.scheduleRunner.TriggerNow(sched)
	var runErr error
	if run.Status == schedule.RunFailed {
		runErr = fmt.Errorf("%s", run.Error)
	}
	s.recordAudit(ctx, audit.Event{
		Operation:   audit.OpScheduleTrigger,
		AppID:       sched.AppID,
		ScheduleID:  sched.ID,
		ExecutionID: run.ExecutionID,
	}, runErr)
	return nil, run, nil
}

func (s *Server) scheduleHistory(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	if err := validation.ValidateScheduleID(params.ScheduleID); err != nil {
		return nil, nil, err
	}
	if _, err := s.scheduleStore.Get(params.ScheduleID); err != nil {
		return nil, nil, err
	}

	runs, err := s.scheduleStore.ListRuns(params.ScheduleID, params.Limit)
	if err != nil {
		return nil, nil, err
	}
	if runs == nil {
		runs = []*schedule.Run{}
	}
	return nil, map[string]any{"runs": runs, "count": len(runs)}, nil
}

func (s *Server) lookupSchedule(id string) (*schedule.Schedule, error) {
	if err := validation.ValidateScheduleID(id); err != nil {
		return nil, err
	}
	return s.scheduleStore.Get(id)
}

func (s *Server) scheduleView(sched *schedule.Schedule) ScheduleView {
	view := ScheduleView{Schedule: sched}
	if s.scheduleRunner != nil {
		view.Running = s.scheduleRunner.Running(sched.ID)
	}
	if sched.Enabled {
		if upcoming, err := schedule.NextRuns(sched.CronExpr, time.Now(), 3); err == nil {
			view.Upcoming = upcoming
		}
	}
	return view
}
