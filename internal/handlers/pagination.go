package handlers

import (
	"slices"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/CoachLedger/internal/models"
)

// Page bounds for refund request listings.
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

var refundRequestStatuses = []string{
	models.RefundRequestStatusOpen,
	models.RefundRequestStatusApproved,
	models.RefundRequestStatusRejected,
}

type pageQuery struct {
	Page   int
	Limit  int
	Status string
}

// parsePageQuery reads page, limit and an optional status filter. ok is
// false when status is set to a value outside statuses.
func parsePageQuery(c *fiber.Ctx, statuses []string) (pageQuery, bool) {
	query := pageQuery{
		Page:   parsePositiveInt(c.Query("page"), 1),
		Limit:  parsePositiveInt(c.Query("limit"), defaultPageLimit),
		Status: c.Query("status"),
	}
	if query.Limit > maxPageLimit {
		query.Limit = maxPageLimit
	}
	if query.Status != "" && !slices.Contains(statuses, query.Status) {
		return query, false
	}
	return query, true
}

func buildPaginationMeta(query pageQuery, total int) models.PaginationMeta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + query.Limit - 1) / query.Limit
	}

	return models.PaginationMeta{
		Page:       query.Page,
		Limit:      query.Limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    query.Page < totalPages,
	}
}
