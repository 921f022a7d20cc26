package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/usage_analytics/internal/app"
	"github.com/ncecere/usage_analytics/internal/httpserver/httputil"
	"github.com/ncecere/usage_analytics/internal/services/analytics"
)

type analyticsHandler struct {
	service *analytics.Service
}

func registerAnalyticsRoutes(router fiber.Router, container *app.Container) {
	handler := &analyticsHandler{service: container.Analytics}

	router.Get("/ai-usage", handler.usage)
	router.Get("/ai-usage/:id", handler.usageDetail)
	router.Get("/costs", handler.costs)
	router.Get("/metrics", handler.metrics)
	router.Get("/workflows", handler.workflows)
}

func (h *analyticsHandler) usage(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "analytics service unavailable")
	}
	params, err := h.service.ParsePage(c.Query("page"), c.Query("limit"))
	if err != nil {
		return writeServiceError(c, err)
	}
	page, err := h.service.GetUsageDetails(c.UserContext(), c.Query("timeframe"), params)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(page)
}

func (h *analyticsHandler) usageDetail(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "analytics service unavailable")
	}
	detail, err := h.service.GetUsageDetail(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(detail)
}

func (h *analyticsHandler) costs(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "analytics service unavailable")
	}
	analysis, err := h.service.GetCostAnalysis(c.UserContext(), c.Query("timeframe"), c.Query("service"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(analysis)
}

func (h *analyticsHandler) metrics(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "analytics service unavailable")
	}
	report, err := h.service.GetMetricsSummary(c.UserContext(), c.Query("timeframe"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(report)
}

func (h *analyticsHandler) workflows(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "analytics service unavailable")
	}
	details, err := h.service.GetWorkflowDetails(c.UserContext(), c.Query("timeframe"), c.Query("status"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(details)
}

func writeServiceError(c *fiber.Ctx, err error) error {
	kind := string(analytics.KindOf(err))
	switch {
	case errors.Is(err, analytics.ErrInvalidTimeframe), errors.Is(err, analytics.ErrInvalidPagination):
		return httputil.WriteKindError(c, fiber.StatusBadRequest, kind, analytics.Message(err))
	case errors.Is(err, analytics.ErrNotFound):
		return httputil.WriteKindError(c, fiber.StatusNotFound, kind, analytics.Message(err))
	case errors.Is(err, analytics.ErrStoreUnavailable):
		return httputil.WriteKindError(c, fiber.StatusServiceUnavailable, kind, analytics.Message(err))
	}
	slog.Error("analytics request failed",
		slog.String("path", c.Path()),
		slog.String("error", err.Error()),
	)
	return httputil.WriteError(c, fiber.StatusInternalServerError, "")
}
