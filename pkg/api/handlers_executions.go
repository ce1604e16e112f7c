package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/stageresult"
	"github.com/haasonsaas/playbookengine/ent/task"
	"github.com/haasonsaas/playbookengine/ent/toolcall"
)

// errExecutionNotInWorkspace signals that :eid resolved to a real task
// row belonging to a different workspace than :wid — treated identically
// to a missing task so a caller can't discover another workspace's
// execution ids by probing.
var errExecutionNotInWorkspace = errors.New("execution not found in workspace")

// listExecutions handles GET /workspaces/:wid/executions.
func (s *Server) listExecutions(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	q := s.client.Task.Query().
		Where(task.WorkspaceIDEQ(c.Param("wid")), task.TaskTypeEQ(task.TaskTypePlaybookExecution)).
		Order(ent.Desc(task.FieldCreatedAt)).
		Limit(limit)
	if v := c.Query("status"); v != "" {
		q = q.Where(task.StatusEQ(task.Status(v)))
	}

	tasks, err := q.All(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]ExecutionView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newExecutionView(t))
	}
	c.JSON(http.StatusOK, gin.H{"executions": views})
}

// getExecution handles GET /workspaces/:wid/executions/:eid.
func (s *Server) getExecution(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	t, err := s.loadExecution(ctx, c)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newExecutionView(t))
}

// listSteps handles GET /workspaces/:wid/executions/:eid/steps.
func (s *Server) listSteps(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	t, err := s.loadExecution(ctx, c)
	if err != nil {
		writeError(c, err)
		return
	}

	evts, err := s.events.ListPlaybookSteps(ctx, t.WorkspaceID, t.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]StepView, 0, len(evts))
	for _, e := range evts {
		views = append(views, newStepView(e))
	}
	c.JSON(http.StatusOK, gin.H{"steps": views})
}

// listToolCalls handles GET /workspaces/:wid/executions/:eid/tool-calls.
func (s *Server) listToolCalls(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	if _, err := s.loadExecution(ctx, c); err != nil {
		writeError(c, err)
		return
	}

	calls, err := s.client.ToolCall.Query().
		Where(toolcall.ExecutionIDEQ(c.Param("eid"))).
		Order(ent.Asc(toolcall.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool_calls": calls})
}

// listStageResults handles GET /workspaces/:wid/executions/:eid/stage-results.
func (s *Server) listStageResults(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	if _, err := s.loadExecution(ctx, c); err != nil {
		writeError(c, err)
		return
	}

	results, err := s.client.StageResult.Query().
		Where(stageresult.ExecutionIDEQ(c.Param("eid"))).
		Order(ent.Asc(stageresult.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage_results": results})
}

// loadExecution loads the task named by :eid and checks it belongs to
// workspace :wid, so a caller can't fetch another workspace's execution
// by guessing its id.
func (s *Server) loadExecution(ctx context.Context, c *gin.Context) (*ent.Task, error) {
	t, err := s.client.Task.Get(ctx, c.Param("eid"))
	if err != nil {
		return nil, err
	}
	if t.WorkspaceID != c.Param("wid") {
		return nil, errExecutionNotInWorkspace
	}
	return t, nil
}

func ctxWithTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}
