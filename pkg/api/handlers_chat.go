package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haasonsaas/playbookengine/pkg/chat"
)

// listChat handles GET /workspaces/:wid/executions/:eid/chat.
func (s *Server) listChat(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	t, err := s.loadExecution(ctx, c)
	if err != nil {
		writeError(c, err)
		return
	}

	evts, err := s.events.ListExecutionChat(ctx, t.WorkspaceID, t.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]ChatMessageView, 0, len(evts))
	for _, e := range evts {
		views = append(views, newChatMessageView(e))
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

type postChatRequest struct {
	Content string `json:"content" binding:"required"`
}

// postChat handles POST /workspaces/:wid/executions/:eid/chat.
func (s *Server) postChat(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	if _, err := s.loadExecution(ctx, c); err != nil {
		writeError(c, err)
		return
	}

	var req postChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := s.chat.Post(ctx, chat.PostInput{
		ExecutionID: c.Param("eid"),
		PrincipalID: principalID(c),
		Content:     req.Content,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
