package handler

import (
	"strconv"
	"time"

	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func pathID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("id must be a UUID")
	}
	return id, nil
}

func pagination(c *gin.Context) ports.Pagination {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(ports.DefaultPageSize)))
	return ports.Pagination{Page: page, Limit: limit}.Normalize()
}

// queryTime parses an RFC 3339 query parameter; absent means nil.
func queryTime(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperror.Validation(name + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}
