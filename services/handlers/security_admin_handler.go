package handlers

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aegis-labs/warden_api/dto"
	"github.com/aegis-labs/warden_api/shared"
)

type SecurityAdminHandler struct {
	adminSvc SecurityAdminInterface
}

func NewSecurityAdminHandler(adminSvc SecurityAdminInterface) *SecurityAdminHandler {
	return &SecurityAdminHandler{
		adminSvc: adminSvc,
	}
}

// @Summary Ban a client (Admin)
// @Description Apply a ban flag to an address immediately
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param banRequest body dto.BanRequest true "Ban data"
// @Success 200 {object} shared.Response{data=dto.BanResponse}
// @Router /api/v1/security/admin/ban_now [post]
func (h *SecurityAdminHandler) BanNow(c *fiber.Ctx) error {
	var req dto.BanRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, fiber.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual ban"
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.adminSvc.BanNow(c.UserContext(), req.IP, reason, ttl); err != nil {
		return err
	}

	remaining, _, err := h.adminSvc.BanTTL(c.UserContext(), req.IP)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Client banned", dto.BanResponse{
		IP:         req.IP,
		Banned:     true,
		TTLSeconds: int64(remaining.Seconds()),
	})
}

// @Summary Unban a client (Admin)
// @Description Remove the ban flag and suspicion score for an address
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param ip query string true "Client address"
// @Success 200 {object} shared.Response{data=dto.UnbanResponse}
// @Router /api/v1/security/admin/unban [post]
func (h *SecurityAdminHandler) Unban(c *fiber.Ctx) error {
	ip := c.Query("ip")
	if net.ParseIP(ip) == nil {
		return shared.ResponseBadRequest(c, "A valid ip query parameter is required")
	}

	removed, err := h.adminSvc.Unban(c.UserContext(), ip)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Unban processed", dto.UnbanResponse{
		IP:      ip,
		Removed: removed,
	})
}

// @Summary Unban many clients (Admin)
// @Description Remove ban flags for a list of addresses
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param unbanRequest body dto.UnbanBulkRequest true "Addresses to unban"
// @Success 200 {object} shared.Response{data=dto.UnbanBulkResponse}
// @Router /api/v1/security/admin/unban_bulk [post]
func (h *SecurityAdminHandler) UnbanBulk(c *fiber.Ctx) error {
	var req dto.UnbanBulkRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, fiber.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	removed, err := h.adminSvc.UnbanBulk(c.UserContext(), req.IPs)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Bulk unban processed", dto.UnbanBulkResponse{
		Removed: removed,
	})
}

// @Summary Remaining ban time (Admin)
// @Description Report how long an address stays banned
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param ip query string true "Client address"
// @Success 200 {object} shared.Response{data=dto.BanTTLResponse}
// @Router /api/v1/security/admin/ban_ttl [get]
func (h *SecurityAdminHandler) BanTTL(c *fiber.Ctx) error {
	ip := c.Query("ip")
	if net.ParseIP(ip) == nil {
		return shared.ResponseBadRequest(c, "A valid ip query parameter is required")
	}

	ttl, banned, err := h.adminSvc.BanTTL(c.UserContext(), ip)
	if err != nil {
		return err
	}

	resp := dto.BanTTLResponse{IP: ip, Banned: banned}
	if banned && ttl > 0 {
		resp.TTLSeconds = int64(ttl.Seconds())
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Ban TTL retrieved", resp)
}

// @Summary List current bans (Admin)
// @Description List every active ban, soonest to expire first
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=dto.CurrentBansResponse}
// @Router /api/v1/security/admin/current_bans [get]
func (h *SecurityAdminHandler) CurrentBans(c *fiber.Ctx) error {
	bans, err := h.adminSvc.CurrentBans(c.UserContext())
	if err != nil {
		return err
	}

	entries := make([]dto.BanEntry, 0, len(bans))
	for _, ban := range bans {
		entries = append(entries, dto.BanEntry{
			IP:         ban.IP,
			TTLSeconds: int64(ban.TTL.Seconds()),
		})
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Current bans retrieved", dto.CurrentBansResponse{
		Count: len(entries),
		Bans:  entries,
	})
}

// @Summary Top suspicious clients (Admin)
// @Description List the highest live suspicion scores
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param limit query int false "Max entries" default(20)
// @Success 200 {object} shared.Response{data=dto.TopSuspiciousResponse}
// @Router /api/v1/security/admin/top_suspicious [get]
func (h *SecurityAdminHandler) TopSuspicious(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit < 1 || limit > 1000 {
		limit = 20
	}

	suspects, err := h.adminSvc.TopSuspicious(c.UserContext(), limit)
	if err != nil {
		return err
	}

	entries := make([]dto.SuspectEntry, 0, len(suspects))
	for _, suspect := range suspects {
		entries = append(entries, dto.SuspectEntry{
			IP:         suspect.IP,
			Score:      suspect.Score,
			TTLSeconds: int64(suspect.TTL.Seconds()),
		})
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Top suspicious retrieved", dto.TopSuspiciousResponse{
		Count:    len(entries),
		Suspects: entries,
	})
}
