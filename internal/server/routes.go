package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/fleetd/internal/fleet"
	"github.com/primal-host/fleetd/internal/node"
	"github.com/primal-host/fleetd/internal/ops"
	"github.com/primal-host/fleetd/internal/store"
)

// Dependencies is everything the route handlers need. The server never
// touches internal/store or internal/backend directly for a mutation — every
// write goes through Ops so locking and event logging stay centralized.
type Dependencies struct {
	Ops     *ops.Ops
	Store   *store.Store
	Fleet   *fleet.State
	Version string
}

func (s *Server) routes(deps Dependencies, adminKey string) {
	s.echo.GET("/health", handleHealth(deps))
	s.echo.GET("/", handleDashboard(deps))
	s.echo.GET("/api/status", handleStatus(deps, adminKey))

	api := s.echo.Group("/api", requireBearer(adminKey))
	api.POST("/nodes", handleCreateNode(deps))
	api.GET("/nodes", handleListNodes(deps))
	api.GET("/nodes/:id", handleGetNode(deps))
	api.POST("/nodes/:id/start", handleStartNode(deps))
	api.POST("/nodes/:id/stop", handleStopNode(deps))
	api.POST("/nodes/:id/recycle", handleRecycleNode(deps))
	api.POST("/nodes/:id/upgrade", handleUpgradeNode(deps))
	api.DELETE("/nodes/:id", handleRemoveNode(deps))
	api.GET("/nodes/:id/logs", handleNodeLogs(deps))
	api.GET("/nodes/:id/metrics", handleNodeMetrics(deps))
	api.GET("/earnings", handleListEarnings(deps))
	api.GET("/events", handleListEvents(deps))
	api.GET("/settings", handleGetSettings(deps))
	api.PUT("/settings", handleUpdateSettings(deps))
}

// requireBearer builds Echo middleware that checks the Authorization header
// against the configured admin key.
func requireBearer(adminKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !checkBearer(c, adminKey) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}

func checkBearer(c echo.Context, adminKey string) bool {
	if adminKey == "" {
		return false
	}
	auth := c.Request().Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == adminKey
}

func handleHealth(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": deps.Version})
	}
}

func handleDashboard(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		html := strings.ReplaceAll(dashboardHTML, "{{VERSION}}", deps.Version)
		return c.HTML(http.StatusOK, html)
	}
}

// handleStatus reports fleet-wide counters by status plus, once
// authenticated, the full node list. It is the data source behind the
// dashboard's summary cards.
func handleStatus(deps Dependencies, adminKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		authenticated := checkBearer(c, adminKey)
		stats := deps.Fleet.Stats()

		resp := map[string]any{
			"version":                deps.Version,
			"node_count":             stats.NodeCount,
			"status_counts":          stats.StatusCounts,
			"total_balance":          stats.TotalBalance,
			"records_stored":         stats.RecordsStored,
			"relevant_records":       stats.RelevantRecords,
			"connected_peers":        stats.ConnectedPeers,
			"shunned_count":          stats.ShunnedCount,
			"estimated_network_size": stats.EstimatedNetworkSize,
		}

		if authenticated {
			resp["authenticated"] = true
			resp["nodes"] = deps.Fleet.List()
		}

		return c.JSON(http.StatusOK, resp)
	}
}

func handleCreateNode(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			Backend         string `json:"backend"`
			Port            int    `json:"port"`
			MetricsPort     int    `json:"metrics_port"`
			NodeIP          string `json:"node_ip"`
			RewardsAddr     string `json:"rewards_addr"`
			HomeNetwork     bool   `json:"home_network"`
			UPnP            bool   `json:"upnp"`
			ReachabilityChk bool   `json:"reachability_chk"`
			NodeLogs        bool   `json:"node_logs"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
		spec := node.Spec{
			Backend:         node.Backend(req.Backend),
			Port:            req.Port,
			MetricsPort:     req.MetricsPort,
			NodeIP:          req.NodeIP,
			RewardsAddr:     req.RewardsAddr,
			HomeNetwork:     req.HomeNetwork,
			UPnP:            req.UPnP,
			ReachabilityChk: req.ReachabilityChk,
			NodeLogs:        req.NodeLogs,
		}
		rec, err := deps.Ops.Create(c.Request().Context(), spec)
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusCreated, rec)
	}
}

func handleListNodes(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		records := deps.Fleet.List()
		if records == nil {
			records = []node.Record{}
		}
		return c.JSON(http.StatusOK, records)
	}
}

func handleGetNode(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		rec, err := deps.Fleet.Get(c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "node not found"})
		}
		return c.JSON(http.StatusOK, rec)
	}
}

func handleStartNode(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := deps.Ops.Start(c.Request().Context(), c.Param("id")); err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "started"})
	}
}

func handleStopNode(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := deps.Ops.Stop(c.Request().Context(), c.Param("id")); err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "stopped"})
	}
}

func handleRecycleNode(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := deps.Ops.Recycle(c.Request().Context(), c.Param("id")); err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "recycled"})
	}
}

func handleUpgradeNode(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			Version string `json:"version"`
		}
		if err := c.Bind(&req); err != nil || req.Version == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "version is required"})
		}
		if err := deps.Ops.Upgrade(c.Request().Context(), c.Param("id"), req.Version); err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "upgraded"})
	}
}

func handleRemoveNode(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := deps.Ops.Remove(c.Request().Context(), c.Param("id")); err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "removed"})
	}
}

func handleNodeLogs(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		rec, err := deps.Fleet.Get(c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "node not found"})
		}
		follow := c.QueryParam("follow") == "true"
		reader, err := deps.Ops.Backend.Logs(c.Request().Context(), &rec, follow)
		if err != nil {
			return jsonError(c, err)
		}
		defer reader.Close()

		c.Response().Header().Set("Content-Type", "text/plain; charset=utf-8")
		c.Response().WriteHeader(http.StatusOK)
		_, _ = io.Copy(c.Response().Writer, reader)
		return nil
	}
}

func handleNodeMetrics(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		var since time.Time
		if raw := c.QueryParam("since"); raw != "" {
			if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
				since = parsed
			}
		}
		samples, err := deps.Store.QueryMetrics(c.Request().Context(), c.Param("id"), since)
		if err != nil {
			return jsonError(c, err)
		}
		if samples == nil {
			samples = []node.MetricSample{}
		}
		return c.JSON(http.StatusOK, samples)
	}
}

func handleListEarnings(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		address := c.QueryParam("address")
		if address == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "address is required"})
		}
		earnings, err := deps.Store.ListEarnings(c.Request().Context(), address)
		if err != nil {
			return jsonError(c, err)
		}
		if earnings == nil {
			earnings = []node.Earning{}
		}
		return c.JSON(http.StatusOK, earnings)
	}
}

func handleListEvents(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 100
		if raw := c.QueryParam("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		events, err := deps.Store.ListEvents(c.Request().Context(), limit)
		if err != nil {
			return jsonError(c, err)
		}
		if events == nil {
			events = []node.Event{}
		}
		return c.JSON(http.StatusOK, events)
	}
}

func handleGetSettings(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		set, err := deps.Store.GetSettings(c.Request().Context())
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, set)
	}
}

func handleUpdateSettings(deps Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		var set node.Settings
		if err := c.Bind(&set); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
		if err := deps.Store.UpdateSettings(c.Request().Context(), set); err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, set)
	}
}

// jsonError maps internal sentinel errors to the right HTTP status; anything
// unrecognized is a 400, since every ops mutation error here originates from
// caller-supplied input (an unknown node id, a conflicting port, a locked
// node) rather than a server-side fault.
func jsonError(c echo.Context, err error) error {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fleet.ErrUnknownNode):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, fleet.ErrLocked):
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
