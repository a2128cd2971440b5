package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/session"
	"github.com/taskforge/taskforge/internal/task"
)

var (
	app    = kingpin.New("taskforge", "Task orchestration CLI for AI worker agents")
	server = app.Flag("server", "Server base URL").Default("http://localhost:3100").Envar("TASKFORGE_SERVER").String()
	apiKey = app.Flag("api-key", "API key").Envar("TASKFORGE_API_KEY").String()

	// Task commands
	enqueueCmd      = app.Command("enqueue", "Enqueue a new task")
	enqueueProject  = enqueueCmd.Flag("project", "Project ID").Required().String()
	enqueueTitle    = enqueueCmd.Arg("title", "Task title").Required().String()
	enqueueDesc     = enqueueCmd.Flag("description", "Task description").Required().String()
	enqueueType     = enqueueCmd.Flag("type", "Task type").String()
	enqueuePriority = enqueueCmd.Flag("priority", "Priority (1 is highest)").Int()
	enqueueSkills   = enqueueCmd.Flag("skill", "Required skill (repeatable)").Strings()
	enqueueParent   = enqueueCmd.Flag("parent", "Parent task ID").String()

	listCmd     = app.Command("list", "List tasks")
	listProject = listCmd.Flag("project", "Filter by project ID").String()
	listAgent   = listCmd.Flag("agent", "Filter by assigned agent ID").String()

	showCmd = app.Command("show", "Show task details")
	showID  = showCmd.Arg("id", "Task ID").Required().String()

	completeCmd    = app.Command("complete", "Mark a task completed")
	completeID     = completeCmd.Arg("id", "Task ID").Required().String()
	completeResult = completeCmd.Flag("result", "Task result").String()

	failCmd   = app.Command("fail", "Mark a task failed")
	failID    = failCmd.Arg("id", "Task ID").Required().String()
	failError = failCmd.Flag("error", "Error message").String()

	assignCmd = app.Command("assign", "Assign a queued task to the best available agent")
	assignID  = assignCmd.Arg("id", "Task ID").Required().String()

	delegateCmd    = app.Command("delegate", "Delegate a subtask to another agent")
	delegateParent = delegateCmd.Arg("parent-id", "Parent task ID").Required().String()
	delegateTarget = delegateCmd.Arg("target", "Agent id, name, or role").Required().String()
	delegateTitle  = delegateCmd.Flag("title", "Subtask title").Required().String()
	delegateDesc   = delegateCmd.Flag("description", "Subtask description").Required().String()

	// Agent commands
	agentCmd = app.Command("agent", "Agent management commands")

	agentListCmd = agentCmd.Command("list", "List all agents")

	agentRegisterCmd    = agentCmd.Command("register", "Register a new agent")
	agentRegisterName   = agentRegisterCmd.Arg("name", "Agent name").Required().String()
	agentRegisterRole   = agentRegisterCmd.Flag("role", "Agent role").String()
	agentRegisterType   = agentRegisterCmd.Flag("type", "Task type the agent handles").String()
	agentRegisterSkills = agentRegisterCmd.Flag("skill", "Agent skill (repeatable)").Strings()
	agentRegisterMax    = agentRegisterCmd.Flag("max-workload", "Concurrent task capacity").Default("1").Int()

	agentStatusCmd   = agentCmd.Command("status", "Update agent status")
	agentStatusID    = agentStatusCmd.Arg("id", "Agent ID").Required().String()
	agentStatusValue = agentStatusCmd.Arg("status", "New status (idle, running, offline)").Required().String()

	// Session commands
	sessionCmd = app.Command("session", "Session management commands")

	sessionNewCmd = sessionCmd.Command("new", "Create a new session")

	sessionAppendCmd     = sessionCmd.Command("append", "Append an interaction to a session")
	sessionAppendID      = sessionAppendCmd.Arg("id", "Session ID").Required().String()
	sessionAppendRole    = sessionAppendCmd.Arg("role", "Role (user, assistant, system)").Required().String()
	sessionAppendContent = sessionAppendCmd.Arg("content", "Interaction content").Required().String()

	sessionHistoryCmd = sessionCmd.Command("history", "Show session history")
	sessionHistoryID  = sessionHistoryCmd.Arg("id", "Session ID").Required().String()

	sessionEndCmd = sessionCmd.Command("end", "End a session")
	sessionEndID  = sessionEndCmd.Arg("id", "Session ID").Required().String()

	// Operational commands
	jobsCmd = app.Command("jobs", "Show background job status")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	client := newAPIClient(strings.TrimRight(*server, "/")+"/api", *apiKey)

	var err error
	switch command {
	case enqueueCmd.FullCommand():
		err = handleEnqueue(client)
	case listCmd.FullCommand():
		err = handleList(client)
	case showCmd.FullCommand():
		err = handleShow(client)
	case completeCmd.FullCommand():
		err = handleComplete(client)
	case failCmd.FullCommand():
		err = handleFail(client)
	case assignCmd.FullCommand():
		err = handleAssign(client)
	case delegateCmd.FullCommand():
		err = handleDelegate(client)
	case agentListCmd.FullCommand():
		err = handleAgentList(client)
	case agentRegisterCmd.FullCommand():
		err = handleAgentRegister(client)
	case agentStatusCmd.FullCommand():
		err = handleAgentStatus(client)
	case sessionNewCmd.FullCommand():
		err = handleSessionNew(client)
	case sessionAppendCmd.FullCommand():
		err = handleSessionAppend(client)
	case sessionHistoryCmd.FullCommand():
		err = handleSessionHistory(client)
	case sessionEndCmd.FullCommand():
		err = handleSessionEnd(client)
	case jobsCmd.FullCommand():
		err = handleJobs(client)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleEnqueue(client *apiClient) error {
	req := map[string]any{
		"project_id":      *enqueueProject,
		"title":           *enqueueTitle,
		"description":     *enqueueDesc,
		"type":            *enqueueType,
		"required_skills": *enqueueSkills,
		"parent_task_id":  *enqueueParent,
	}
	if *enqueuePriority != 0 {
		req["priority"] = *enqueuePriority
	}
	var t task.Task
	if err := client.post("/tasks", req, &t); err != nil {
		return err
	}
	fmt.Printf("Enqueued task %s (priority %d)\n", color.CyanString(t.ID), t.Priority)
	return nil
}

func handleList(client *apiClient) error {
	path := "/tasks"
	switch {
	case *listAgent != "":
		path += "?agent_id=" + *listAgent
	case *listProject != "":
		path += "?project_id=" + *listProject
	}
	var tasks []*task.Task
	if err := client.get(path, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}
	for _, t := range tasks {
		fmt.Printf("%s  %s  p%d  %s\n", color.CyanString(t.ID), taskStatusColor(t.Status), t.Priority, t.Title)
	}
	return nil
}

func handleShow(client *apiClient) error {
	var t task.Task
	if err := client.get("/tasks/"+*showID, &t); err != nil {
		return err
	}
	fmt.Printf("ID:          %s\n", color.CyanString(t.ID))
	fmt.Printf("Project:     %s\n", t.ProjectID)
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Status:      %s\n", taskStatusColor(t.Status))
	fmt.Printf("Priority:    %d\n", t.Priority)
	if t.Type != "" {
		fmt.Printf("Type:        %s\n", t.Type)
	}
	if len(t.RequiredSkills) > 0 {
		fmt.Printf("Skills:      %s\n", strings.Join(t.RequiredSkills, ", "))
	}
	if t.AssignedTo != "" {
		fmt.Printf("Assigned to: %s\n", t.AssignedTo)
	}
	if t.ParentTaskID != "" {
		fmt.Printf("Parent:      %s\n", t.ParentTaskID)
	}
	if t.RetryCount > 0 {
		fmt.Printf("Retries:     %d\n", t.RetryCount)
	}
	if t.Result != "" {
		fmt.Printf("Result:      %s\n", t.Result)
	}
	if t.ErrorMessage != "" {
		fmt.Printf("Error:       %s\n", color.RedString(t.ErrorMessage))
	}
	for _, note := range t.Notes {
		fmt.Printf("Note:        %s (%s)\n", note.Message, note.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func handleComplete(client *apiClient) error {
	var t task.Task
	if err := client.post("/tasks/"+*completeID+"/complete", map[string]string{"result": *completeResult}, &t); err != nil {
		return err
	}
	fmt.Printf("Task %s %s\n", color.CyanString(t.ID), color.GreenString("completed"))
	return nil
}

func handleFail(client *apiClient) error {
	var t task.Task
	if err := client.post("/tasks/"+*failID+"/fail", map[string]string{"error": *failError}, &t); err != nil {
		return err
	}
	fmt.Printf("Task %s %s\n", color.CyanString(t.ID), color.RedString("failed"))
	return nil
}

func handleAssign(client *apiClient) error {
	var resp struct {
		Agent    *agent.Agent `json:"agent"`
		Assigned bool         `json:"assigned"`
	}
	if err := client.post("/tasks/"+*assignID+"/assign", struct{}{}, &resp); err != nil {
		return err
	}
	if !resp.Assigned {
		fmt.Println(color.YellowString("No eligible agent available, task remains queued"))
		return nil
	}
	fmt.Printf("Task %s assigned to %s (%s)\n", color.CyanString(*assignID), resp.Agent.Name, resp.Agent.ID)
	return nil
}

func handleDelegate(client *apiClient) error {
	req := map[string]string{
		"target":      *delegateTarget,
		"title":       *delegateTitle,
		"description": *delegateDesc,
	}
	var child task.Task
	if err := client.post("/tasks/"+*delegateParent+"/delegate", req, &child); err != nil {
		return err
	}
	fmt.Printf("Delegated subtask %s to %s (%s)\n", color.CyanString(child.ID), *delegateTarget, child.Status)
	return nil
}

func handleAgentList(client *apiClient) error {
	var agents []*agent.Agent
	if err := client.get("/agents", &agents); err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered")
		return nil
	}
	for _, a := range agents {
		fmt.Printf("%s  %s  %s  %d/%d  %s\n",
			color.CyanString(a.ID), agentStatusColor(a.Status), a.Name,
			a.CurrentWorkload, a.MaxWorkload, strings.Join(a.Skills, ","))
	}
	return nil
}

func handleAgentRegister(client *apiClient) error {
	req := map[string]any{
		"name":         *agentRegisterName,
		"role":         *agentRegisterRole,
		"type":         *agentRegisterType,
		"skills":       *agentRegisterSkills,
		"max_workload": *agentRegisterMax,
	}
	var a agent.Agent
	if err := client.post("/agents", req, &a); err != nil {
		return err
	}
	fmt.Printf("Registered agent %s (%s)\n", color.CyanString(a.ID), a.Name)
	return nil
}

func handleAgentStatus(client *apiClient) error {
	var a agent.Agent
	if err := client.do("PUT", "/agents/"+*agentStatusID+"/status", map[string]string{"status": *agentStatusValue}, &a); err != nil {
		return err
	}
	fmt.Printf("Agent %s is now %s\n", color.CyanString(a.ID), agentStatusColor(a.Status))
	return nil
}

func handleSessionNew(client *apiClient) error {
	var sess session.Session
	if err := client.post("/sessions", struct{}{}, &sess); err != nil {
		return err
	}
	fmt.Printf("Created session %s\n", color.CyanString(sess.ID))
	return nil
}

func handleSessionAppend(client *apiClient) error {
	req := map[string]string{"role": *sessionAppendRole, "content": *sessionAppendContent}
	var sess session.Session
	if err := client.post("/sessions/"+*sessionAppendID+"/interactions", req, &sess); err != nil {
		return err
	}
	fmt.Printf("Appended interaction (%d total)\n", len(sess.Interactions))
	return nil
}

func handleSessionHistory(client *apiClient) error {
	var history []session.Interaction
	if err := client.get("/sessions/"+*sessionHistoryID+"/history", &history); err != nil {
		return err
	}
	for _, in := range history {
		role := string(in.Role)
		switch in.Role {
		case session.RoleUser:
			role = color.GreenString(role)
		case session.RoleAssistant:
			role = color.CyanString(role)
		case session.RoleSystem:
			role = color.YellowString(role)
		}
		fmt.Printf("[%s] %s: %s\n", in.Timestamp.Format("15:04:05"), role, in.Content)
	}
	return nil
}

func handleSessionEnd(client *apiClient) error {
	if err := client.delete("/sessions/"+*sessionEndID, nil); err != nil {
		return err
	}
	fmt.Printf("Session %s ended\n", color.CyanString(*sessionEndID))
	return nil
}

func handleJobs(client *apiClient) error {
	var jobs []scheduler.JobStatus
	if err := client.get("/jobs", &jobs); err != nil {
		return err
	}
	for _, j := range jobs {
		line := fmt.Sprintf("%-20s every %-8s runs=%d failures=%d", j.Name, j.Interval, j.Runs, j.Failures)
		if j.LastError != "" {
			line += "  last_error=" + color.RedString(j.LastError)
		}
		fmt.Println(line)
	}
	return nil
}

func taskStatusColor(s task.Status) string {
	switch s {
	case task.StatusQueued:
		return color.YellowString(string(s))
	case task.StatusInProgress:
		return color.CyanString(string(s))
	case task.StatusCompleted:
		return color.GreenString(string(s))
	case task.StatusFailed:
		return color.RedString(string(s))
	}
	return string(s)
}

func agentStatusColor(s agent.Status) string {
	switch s {
	case agent.StatusIdle:
		return color.YellowString(string(s))
	case agent.StatusRunning:
		return color.GreenString(string(s))
	case agent.StatusOffline:
		return color.RedString(string(s))
	}
	return string(s)
}
