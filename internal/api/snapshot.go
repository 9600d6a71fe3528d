package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"swimguard/internal/snapshot"
)

// SnapshotHandler wires the optional, caller-invoked snapshot store
// (§6.4) to two POST routes. It is never constructed automatically:
// a node that never calls NewSnapshotHandler behaves as if persistence
// didn't exist.
type SnapshotHandler struct {
	handler *Handler
	store   *snapshot.Store
}

// NewSnapshotHandler wires h to an already opened snapshot store.
func NewSnapshotHandler(h *Handler, store *snapshot.Store) *SnapshotHandler {
	return &SnapshotHandler{handler: h, store: store}
}

// Save persists the current membership view.
func (sh *SnapshotHandler) Save(c *gin.Context) {
	if err := sh.store.Save(sh.handler.cluster.Members()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "snapshot saved"})
}

// Load reports the last saved membership view without applying it to
// the running cluster — restoring a snapshot into a live MemberList
// would bypass the normal (incarnation, health) merge rule, so the
// caller decides what to do with the result (e.g. seed Connect calls
// for a fresh process).
func (sh *SnapshotHandler) Load(c *gin.Context) {
	members, err := sh.store.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}
