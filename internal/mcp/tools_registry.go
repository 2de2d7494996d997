package mcp

// registerAllTools registers all MCP tools with the registry
func (s *Server) registerAllTools(r *Registry) {
	s.registerAppTools(r)
	s.registerChatTools(r)
	if s.history != nil {
		s.registerHistoryTools(r)
	}
	if s.scheduleStore != nil {
		s.registerScheduleTools(r)
	}
}

func (s *Server) registerAppTools(r *Registry) {
	Register(r, ToolDef{
		Name: "apps",
		Description: `List the AirOps apps configured for this server.

Returns each app's name, id, version, whether it is an agent app, and its inputs schema.
Use the name or the id as the app parameter of app_execute and agent_chat.`,
		Access: AccessRead,
	}, s.handleApps)

	Register(r, ToolDef{
		Name: "app_execute",
		Description: `Run an AirOps app and wait for its result.

Key parameters:
  app      - App name from the apps tool, or a raw app id (required)
  inputs   - Input values; validated against the app's inputs schema when one is configured
  version  - App version to run (default: configured version, else latest)
  wait     - Set to false to return as soon as the execution is submitted
  stream   - Stream output over the realtime channel and include it in the result
  timeout_seconds - How long to wait before returning; the execution keeps running remotely

On timeout, use app_execution_get with the returned execution_id to fetch the result later.`,
		Access: AccessWrite,
	}, s.handleAppExecute)

	Register(r, ToolDef{
		Name: "app_execution_get",
		Description: `Fetch the current state of an app execution.

Requires app and execution_id. Set wait=true to keep polling until the execution finishes
or timeout_seconds passes.`,
		Access: AccessRead,
	}, s.handleExecutionGet)

	Register(r, ToolDef{
		Name: "app_execution_cancel",
		Description: `Cancel a running app execution. Requires app and execution_id.`,
		Access:      AccessWrite,
	}, s.handleExecutionCancel)
}

func (s *Server) registerChatTools(r *Registry) {
	Register(r, ToolDef{
		Name: "agent_chat",
		Description: `Send a message to an AirOps agent app and wait for its reply.

Key parameters:
  app        - Agent app name or id (required)
  message    - The message to send (required)
  session_id - Continue an existing conversation; omit to start a new one
  inputs     - Extra inputs passed with the message

Returns the reply, the session_id to continue with, and the tool actions the agent took.`,
		Access: AccessWrite,
	}, s.handleAgentChat)
}

func (s *Server) registerHistoryTools(r *Registry) {
	Register(r, ToolDef{
		Name: "execution_history",
		Description: `List executions and chat turns submitted from this machine, newest first.

Filter by app, kind ("execution" or "chat"), or unresolved=true for work still running or
timed out. Timed-out executions can be resumed with app_execution_get and wait=true.`,
		Access: AccessRead,
	}, s.handleExecutionHistory)
}

func (s *Server) registerScheduleTools(r *Registry) {
	Register(r, ToolDef{
		Name: "schedule",
		Description: `Manage scheduled app executions - cron-based recurring runs.

Actions:
  create   - Create a schedule. Requires name, cron_expr and app. Optional inputs and version.
  list     - List schedules. Optionally filter by app or enabled.
  get      - Get schedule details and its next run times by schedule_id.
  update   - Update a schedule. Pass only fields to change.
  delete   - Delete a schedule by schedule_id.
  trigger  - Run a schedule immediately and wait for the result, ignoring cron timing.
  history  - View run history for a schedule. Optionally limit results.

Set overlap_behavior to "skip" (default) to skip a run while the previous one is still going,
or "parallel" to allow runs to overlap.`,
		Access: AccessWrite,
	}, s.handleSchedule)
}
