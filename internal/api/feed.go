package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Feed upgrades to a websocket, pushes the current membership view
// once on connect, then pushes one JSON event per transition the
// cluster publishes (see cluster.FeedEvent for which those are) —
// event-driven, unlike the teacher's WebSocketHandler, which re-pushes
// its full ring/replication snapshot on a fixed tick regardless of
// whether anything changed.
func (h *Handler) Feed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	snapshot := conn.WriteJSON(gin.H{
		"type":    "snapshot",
		"members": h.cluster.Members(),
		"rounds":  h.cluster.Rounds(),
	})
	if snapshot != nil {
		return
	}

	events, unsubscribe := h.cluster.Subscribe()
	defer unsubscribe()

	for ev := range events {
		if conn.WriteJSON(ev) != nil {
			return
		}
	}
}
