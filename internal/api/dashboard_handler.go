package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rxportal/internal/dashboard"
)

// DashboardHandler 装配仪表盘视图。某一路数据源失败只体现在
// payload.errors 里，不会整页失败。
type DashboardHandler struct {
	registry   *stateRegistry
	aggregator *dashboard.Aggregator
}

// NewDashboardHandler 构造仪表盘处理器。
func NewDashboardHandler(registry *stateRegistry, aggregator *dashboard.Aggregator) *DashboardHandler {
	return &DashboardHandler{registry: registry, aggregator: aggregator}
}

// Get 并发拉取账号级与档案级数据源并返回合成载荷。
func (h *DashboardHandler) Get(c *gin.Context) {
	sessionID, ok := sessionIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	st := h.registry.get(ctx, sessionID)

	payload := h.aggregator.Build(ctx, accountID, st.directory.CurrentProfileID())
	c.JSON(http.StatusOK, payload)
}
