package api

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/resolvd/decisiond/pkg/stream"
)

// writeEvent encodes one stream event as an SSE frame.
func writeEvent(c *gin.Context, ev stream.Event) {
	data := ev.Payload
	if data == nil {
		// Heartbeats carry no payload; an empty object keeps every
		// frame's data field valid JSON.
		data = json.RawMessage("{}")
	}
	err := sse.Encode(c.Writer, sse.Event{
		Id:    strconv.FormatUint(ev.Sequence, 10),
		Event: string(ev.Type),
		Data:  data,
	})
	if err != nil {
		slog.Debug("Failed to write SSE frame", "sequence", ev.Sequence, "error", err)
	}
}
