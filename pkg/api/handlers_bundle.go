package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/event"
)

// threadBundle handles GET /workspaces/:wid/threads/:tid/bundle: an
// aggregated snapshot of every event recorded against thread :tid
// (spec.md §3.3's optional thread_id grouping), oldest first.
func (s *Server) threadBundle(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()

	wid, tid := c.Param("wid"), c.Param("tid")
	evts, err := s.client.Event.Query().
		Where(event.WorkspaceIDEQ(wid), event.ThreadIDEQ(tid)).
		Order(ent.Asc(event.FieldTimestamp)).
		All(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thread_id": tid,
		"events":    evts,
		"count":     len(evts),
	})
}
