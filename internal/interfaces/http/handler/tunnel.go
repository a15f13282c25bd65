package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/o2o/erpsync/internal/infrastructure/tunnel"
)

// TunnelManager reports and restarts SSH tunnels. *tunnel.Manager implements it.
type TunnelManager interface {
	HealthCheck(ctx context.Context) []tunnel.Status
	Reconnect(ctx context.Context, name string) error
}

// TunnelHandler exposes SSH tunnel status for operators
type TunnelHandler struct {
	BaseHandler
	manager TunnelManager
}

// NewTunnelHandler creates a new TunnelHandler
func NewTunnelHandler(m TunnelManager) *TunnelHandler {
	return &TunnelHandler{manager: m}
}

// ListTunnels godoc
// @ID           listTunnels
// @Summary      SSH tunnel status
// @Description  Probes every open tunnel and reports its addresses, health and reconnect count
// @Tags         tunnels
// @Produce      json
// @Success      200 {object} APIResponse[[]tunnel.Status]
// @Router       /tunnels [get]
func (h *TunnelHandler) ListTunnels(c *gin.Context) {
	statuses := h.manager.HealthCheck(c.Request.Context())
	h.List(c, statuses, len(statuses), 0)
}

// Reconnect godoc
// @ID           reconnectTunnel
// @Summary      Re-establish one SSH tunnel
// @Tags         tunnels
// @Produce      json
// @Param        name path string true "Tunnel name"
// @Success      200 {object} APIResponse[[]tunnel.Status]
// @Failure      404 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /tunnels/{name}/reconnect [post]
func (h *TunnelHandler) Reconnect(c *gin.Context) {
	name := c.Param("name")
	if err := h.manager.Reconnect(c.Request.Context(), name); err != nil {
		h.HandleError(c, err)
		return
	}
	for _, st := range h.manager.HealthCheck(c.Request.Context()) {
		if st.Name == name {
			h.Success(c, st)
			return
		}
	}
	h.Success(c, gin.H{"name": name})
}
