package diagnostics

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/leads_backend/config"
)

// ReportHandler serves the mapping audit for one table (default leads).
func ReportHandler(c *gin.Context) {
	table := c.DefaultQuery("table", "leads")

	report, err := Run(c.Request.Context(), config.GetDB(), table)
	if err != nil {
		config.LogError(config.GetLogger(), "diagnostics", "ReportHandler", table, nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
