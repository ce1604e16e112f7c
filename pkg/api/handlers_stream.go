package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haasonsaas/playbookengine/pkg/stream"
)

// streamExecution handles GET /workspaces/:wid/executions/:eid/stream:
// the `data: <JSON>\n\n` wire format spec.md §6 names, with the JSON
// envelope's own "type" field carrying the closed discriminant set.
// Framed with Gin's c.Stream the way Gin natively supports SSE (go.mod
// carries no dedicated SSE library, and the teacher's own live-update
// path is WebSocket push, not SSE).
func (s *Server) streamExecution(c *gin.Context) {
	t, err := s.loadExecution(c.Request.Context(), c)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	events := make(chan stream.Event, 16)
	go func() {
		s.projector.Run(c.Request.Context(), t.WorkspaceID, t.ID, func(e stream.Event) {
			select {
			case events <- e:
			case <-c.Request.Context().Done():
			}
		})
		close(events)
	}()

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-events:
			if !ok {
				return false
			}
			writeSSEEvent(w, e)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func writeSSEEvent(w io.Writer, e stream.Event) {
	envelope := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		envelope[k] = v
	}
	envelope["type"] = e.Type

	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(payload)
	_, _ = io.WriteString(w, "\n\n")
}
