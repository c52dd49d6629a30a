package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/aegis-labs/warden_api/dto"
	"github.com/aegis-labs/warden_api/shared"
)

type OpsHandler struct {
	metricsSvc OpsMetricsInterface
}

func NewOpsHandler(metricsSvc OpsMetricsInterface) *OpsHandler {
	return &OpsHandler{
		metricsSvc: metricsSvc,
	}
}

// @Summary Traffic metrics summary
// @Description Per-minute request, error and ban counters, newest first
// @Tags ops
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Bearer Token" default(Bearer <token>)
// @Param minutes query int false "Minutes to include" default(10)
// @Success 200 {object} shared.Response{data=dto.MetricsSummaryResponse}
// @Router /api/v1/ops/metrics/summary [get]
func (h *OpsHandler) MetricsSummary(c *fiber.Ctx) error {
	minutes, _ := strconv.Atoi(c.Query("minutes", "10"))
	if minutes < 1 || minutes > 240 {
		minutes = 10
	}

	rows, err := h.metricsSvc.MetricsSummary(c.UserContext(), minutes)
	if err != nil {
		return err
	}

	out := make([]dto.MinuteMetrics, 0, len(rows))
	for _, row := range rows {
		out = append(out, dto.MinuteMetrics{
			Minute:   row.Minute,
			Requests: row.Requests,
			Errors:   row.Errors,
			Bans:     row.Bans,
		})
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Metrics retrieved", dto.MetricsSummaryResponse{
		Minutes: out,
	})
}
