package schemasync

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/leads_backend/config"
)

type reconcileRequest struct {
	Table     string `json:"table"`
	Direction string `json:"direction"`
}

// ReconcileHandler triggers a reconciliation run over HTTP. Direction "pull"
// aligns the local table with the mirror catalog, "push" the mirror with the
// local catalog.
func ReconcileHandler(c *gin.Context) {
	req := reconcileRequest{Table: "leads", Direction: "pull"}
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Table == "" {
		req.Table = "leads"
	}

	var (
		res *Result
		err error
	)
	switch req.Direction {
	case "", "pull":
		res, err = Pull(c.Request.Context(), req.Table)
	case "push":
		res, err = Push(c.Request.Context(), req.Table)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be pull or push"})
		return
	}
	if err != nil {
		config.LogError(config.GetLogger(), "schemasync", "ReconcileHandler", req.Table, req, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
