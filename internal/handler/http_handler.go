package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/health"
	"github.com/weiawesome/wes-chat/internal/history"
	"github.com/weiawesome/wes-chat/internal/validate"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/middleware"
	"github.com/weiawesome/wes-chat/pkg/response"
)

// HistoryReader returns the newest messages of a room, oldest first.
type HistoryReader interface {
	Recent(ctx context.Context, room string, limit int) ([]domain.Message, error)
}

// InstanceLister reports the gateway instances holding members of a room.
type InstanceLister interface {
	Instances(ctx context.Context, room string) ([]string, error)
}

type HTTPHandler struct {
	history    HistoryReader
	instances  InstanceLister
	monitor    *health.Monitor
	verify     middleware.VerifyFunc
	env        string
	instanceID string
	now        func() time.Time
}

func NewHTTPHandler(
	historyReader HistoryReader,
	instances InstanceLister,
	monitor *health.Monitor,
	verify middleware.VerifyFunc,
	env, instanceID string,
) *HTTPHandler {
	return &HTTPHandler{
		history:    historyReader,
		instances:  instances,
		monitor:    monitor,
		verify:     verify,
		env:        env,
		instanceID: instanceID,
		now:        time.Now,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api", middleware.RequireAuth(h.verify))
	{
		api.GET("/messages/:room", h.GetMessages)
		api.GET("/rooms/:room/instances", h.GetRoomInstances)
	}

	r.GET("/health", h.HealthCheck)
}

type messagesResponse struct {
	Messages []domain.MessageView `json:"messages"`
}

// GetMessages returns the newest messages of a room in chronological order.
func (h *HTTPHandler) GetMessages(c *gin.Context) {
	room, err := validate.NormalizeRoom(c.Param("room"))
	if err != nil {
		response.BadRequest(c, "invalid room name")
		return
	}

	limit := history.DefaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			response.BadRequest(c, "limit must be an integer")
			return
		}
		limit = history.ClampLimit(parsed)
	}

	ctx := c.Request.Context()
	messages, err := h.history.Recent(ctx, room, limit)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to read history")
		response.InternalError(c, "failed to get messages")
		return
	}

	views := lo.Map(messages, func(m domain.Message, _ int) domain.MessageView {
		return m.View()
	})
	response.Success(c, messagesResponse{Messages: views})
}

type instancesResponse struct {
	Room      string   `json:"room"`
	Instances []string `json:"instances"`
}

// GetRoomInstances lists the gateway instances with members in a room.
func (h *HTTPHandler) GetRoomInstances(c *gin.Context) {
	room, err := validate.NormalizeRoom(c.Param("room"))
	if err != nil {
		response.BadRequest(c, "invalid room name")
		return
	}

	ctx := c.Request.Context()
	ids, err := h.instances.Instances(ctx, room)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to list room instances")
		response.ServiceUnavailable(c, "instance registry unavailable")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	response.Success(c, instancesResponse{Room: room, Instances: ids})
}

type healthResponse struct {
	OK         bool   `json:"ok"`
	DBOK       bool   `json:"db_ok"`
	BusOK      bool   `json:"bus_ok"`
	Env        string `json:"env"`
	InstanceID string `json:"instance_id"`
	Time       string `json:"time"`
}

// HealthCheck probes the store and the bus and reports 503 while either
// is degraded.
func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	report := h.monitor.Check(c.Request.Context())

	body := healthResponse{
		OK:         report.OK,
		DBOK:       componentOK(report, health.ComponentStore),
		BusOK:      componentOK(report, health.ComponentBus),
		Env:        h.env,
		InstanceID: h.instanceID,
		Time:       domain.FormatTimestamp(h.now()),
	}

	status := http.StatusOK
	if !report.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func componentOK(r health.Report, component string) bool {
	st, ok := r.Components[component]
	return !ok || st.OK
}
