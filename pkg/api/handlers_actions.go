package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haasonsaas/playbookengine/ent/stageresult"
	"github.com/haasonsaas/playbookengine/pkg/chat"
)

// confirmStep handles POST /workspaces/:wid/executions/:eid/steps/:sid/confirm.
// :sid names a StageResult row gating the run (requires_review=true):
// spec.md §3.6 is the only entity in this domain carrying a
// pending/approved/rejected review_status, so a "paused step" is
// represented as its owning stage result awaiting review. Approving
// clears the pause and resumes the run through Execution Chat's
// continue mode, the same path a normal chat reply takes.
func (s *Server) confirmStep(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	if _, err := s.loadExecution(ctx, c); err != nil {
		writeError(c, err)
		return
	}
	if err := s.setReviewStatus(ctx, c.Param("sid"), stageresult.ReviewStatusApproved); err != nil {
		writeError(c, err)
		return
	}
	if err := s.clearPause(ctx, c.Param("eid")); err != nil {
		writeError(c, err)
		return
	}

	out, err := s.chat.Post(ctx, chat.PostInput{
		ExecutionID: c.Param("eid"),
		PrincipalID: principalID(c),
		Content:     "Step confirmed by operator.",
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// rejectStep handles POST /workspaces/:wid/executions/:eid/steps/:sid/reject.
// Rejecting a gating stage result means the operator declined to
// proceed: the execution is cancelled rather than resumed.
func (s *Server) rejectStep(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	if _, err := s.loadExecution(ctx, c); err != nil {
		writeError(c, err)
		return
	}
	if err := s.setReviewStatus(ctx, c.Param("sid"), stageresult.ReviewStatusRejected); err != nil {
		writeError(c, err)
		return
	}
	if err := s.tasks.CancelTask(ctx, c.Param("eid")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled_by_user"})
}

// cancelExecution handles POST /workspaces/:wid/executions/:eid/cancel.
func (s *Server) cancelExecution(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	if _, err := s.loadExecution(ctx, c); err != nil {
		writeError(c, err)
		return
	}
	if err := s.tasks.CancelTask(ctx, c.Param("eid")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled_by_user"})
}

func (s *Server) setReviewStatus(ctx context.Context, stageResultID string, status stageresult.ReviewStatus) error {
	return s.client.StageResult.UpdateOneID(stageResultID).SetReviewStatus(status).Exec(ctx)
}

// clearPause clears the paused_at/waiting_confirmation flags Execution
// Chat's awaitingInput predicate reads, so confirming a step actually
// reopens continue mode for the next chat post.
func (s *Server) clearPause(ctx context.Context, taskID string) error {
	t, err := s.client.Task.Get(ctx, taskID)
	if err != nil {
		return err
	}
	ec := make(map[string]interface{}, len(t.ExecutionContext))
	for k, v := range t.ExecutionContext {
		ec[k] = v
	}
	ec["paused_at"] = ""
	ec["waiting_confirmation"] = false
	return s.client.Task.UpdateOne(t).SetExecutionContext(ec).Exec(ctx)
}
