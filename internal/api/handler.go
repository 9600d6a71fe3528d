// Package api exposes the cluster's membership view and test hooks
// over HTTP, the way the teacher's internal/api/handler.go exposes
// its hash ring and storage layer: a gin.Context-based Handler with
// one method per route, wired up by cmd/member/main.go (§6.2).
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"swimguard/internal/cluster"
	"swimguard/internal/membership"
)

// Handler serves the introspection and control surface over a running
// Cluster.
type Handler struct {
	cluster *cluster.Cluster
}

// NewHandler wires a Handler to cluster.
func NewHandler(c *cluster.Cluster) *Handler {
	return &Handler{cluster: c}
}

// GetStatus reports this node's own identity plus alive/suspect/confirmed
// counts across its current membership view.
func (h *Handler) GetStatus(c *gin.Context) {
	self := h.cluster.Self()
	members := h.cluster.Members()

	var alive, suspect, confirmed int
	for _, m := range members {
		switch m.Health {
		case membership.Alive:
			alive++
		case membership.Suspect:
			suspect++
		case membership.Confirmed:
			confirmed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"self":          self,
		"member_count":  len(members),
		"alive":         alive,
		"suspect":       suspect,
		"confirmed":     confirmed,
		"rounds":        h.cluster.Rounds(),
		"decode_errors": h.cluster.Network().DecodeErrors(),
		"message":       "node is healthy",
	})
}

// GetMembers lists every member this node currently believes in.
func (h *Handler) GetMembers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"members": h.cluster.Members(),
	})
}

// GetMember looks up a single member by id.
func (h *Handler) GetMember(c *gin.Context) {
	id := c.Param("id")
	for _, m := range h.cluster.Members() {
		if m.Member.ID == id {
			c.JSON(http.StatusOK, m)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("member %q not found", id)})
}

// GetRumors returns the dissemination log's current queue, for
// debugging anti-entropy behavior.
func (h *Handler) GetRumors(c *gin.Context) {
	keys := h.cluster.RumorKeys()
	out := make([]gin.H, 0, len(keys))
	for k, sendCount := range keys {
		out = append(out, gin.H{
			"kind":       k.Kind,
			"subject_id": k.SubjectID,
			"sends":      sendCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rumors": out})
}

// GetRounds reports how many probe rounds have elapsed, used by the
// wait_for_rounds(n) test hook.
func (h *Handler) GetRounds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rounds": h.cluster.Rounds()})
}

// Connect is the connect(a, b) test hook: it tells this node about a
// peer directly, bypassing gossip discovery.
func (h *Handler) Connect(c *gin.Context) {
	var req struct {
		ID         string `json:"id" binding:"required"`
		Address    string `json:"address" binding:"required"`
		Persistent bool   `json:"persistent,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.cluster.Connect(membership.Member{ID: req.ID, Address: req.Address, Persistent: req.Persistent})
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("connected to %s", req.ID)})
}

// Pause is the pause() test hook: silently drops all traffic.
func (h *Handler) Pause(c *gin.Context) {
	h.cluster.Network().Pause()
	c.JSON(http.StatusOK, gin.H{"message": "paused"})
}

// Resume undoes Pause.
func (h *Handler) Resume(c *gin.Context) {
	h.cluster.Network().Resume()
	c.JSON(http.StatusOK, gin.H{"message": "resumed"})
}

// Blacklist is the blacklist(a, b) test hook.
func (h *Handler) Blacklist(c *gin.Context) {
	var req struct {
		A string `json:"a" binding:"required"`
		B string `json:"b" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.cluster.Network().Blacklist(req.A, req.B)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("blacklisted %s <-> %s", req.A, req.B)})
}

// Partition is the partition(setA, setB) test hook.
func (h *Handler) Partition(c *gin.Context) {
	var req struct {
		SetA []string `json:"set_a" binding:"required"`
		SetB []string `json:"set_b" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.cluster.Network().Partition(req.SetA, req.SetB)
	c.JSON(http.StatusOK, gin.H{"message": "partitioned"})
}

// Heal reverses a prior Partition.
func (h *Handler) Heal(c *gin.Context) {
	var req struct {
		SetA []string `json:"set_a" binding:"required"`
		SetB []string `json:"set_b" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.cluster.Network().Heal(req.SetA, req.SetB)
	c.JSON(http.StatusOK, gin.H{"message": "healed"})
}
