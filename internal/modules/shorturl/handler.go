package shorturl

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/shortener/internal/models"
	"github.com/mx-space/shortener/internal/pkg/pagination"
	"github.com/mx-space/shortener/internal/pkg/response"
)

type CreateUrlDTO struct {
	URL         string         `json:"url" binding:"required"`
	CustomAlias string         `json:"customAlias"`
	ExpiresAt   string         `json:"expiresAt"`
	Metadata    models.JSONMap `json:"metadata"`
}

type BatchCreateDTO struct {
	URLs []CreateUrlDTO `json:"urls" binding:"required"`
}

const maxBatchSize = 100

type urlResponse struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	Original  string         `json:"original"`
	ShortURL  string         `json:"shortUrl"`
	HitCount  int64          `json:"hitCount"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Metadata  models.JSONMap `json:"metadata,omitempty"`
}

func (h *Handler) toResponse(u *models.UrlModel) urlResponse {
	return urlResponse{
		ID:        u.ID,
		Code:      u.Code,
		Original:  u.Original,
		ShortURL:  h.svc.cfg.ShortURL(u.Code),
		HitCount:  u.HitCount,
		ExpiresAt: u.ExpiresAt,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		Metadata:  u.Metadata,
	}
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, adminMW gin.HandlerFunc) {
	g := rg.Group("/urls")

	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/stats", h.stats)

	a := g.Group("", adminMW)
	a.DELETE("/:code", h.delete)
	a.POST("/batch", h.createBatch)
}

// POST /api/urls
func (h *Handler) create(c *gin.Context) {
	var dto CreateUrlDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.Validation(c, err.Error())
		return
	}

	in, errCode, errMsg := h.parseInput(c, dto)
	if errCode != "" {
		response.BadRequest(c, errCode, errMsg)
		return
	}

	result, err := h.svc.CreateShort(c.Request.Context(), in)
	if err != nil {
		h.writeCreateError(c, err)
		return
	}
	response.Created(c, result)
}

// POST /api/urls/batch — admin only, max 100 entries.
func (h *Handler) createBatch(c *gin.Context) {
	var dto BatchCreateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.Validation(c, err.Error())
		return
	}
	if len(dto.URLs) == 0 || len(dto.URLs) > maxBatchSize {
		response.Validation(c, "urls must contain between 1 and 100 entries")
		return
	}

	success := make([]*CreateResult, 0, len(dto.URLs))
	failures := make([]gin.H, 0)
	for _, entry := range dto.URLs {
		in, errCode, errMsg := h.parseInput(c, entry)
		if errCode != "" {
			failures = append(failures, gin.H{"url": entry.URL, "error": errCode + ": " + errMsg})
			continue
		}
		result, err := h.svc.CreateShort(c.Request.Context(), in)
		if err != nil {
			failures = append(failures, gin.H{"url": entry.URL, "error": createErrorCode(err)})
			continue
		}
		success = append(success, result)
	}
	response.Created(c, gin.H{"success": success, "errors": failures})
}

// GET /api/urls
func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	f := ListFilter{
		Search: c.Query("search"),
		Status: StatusFilter(c.DefaultQuery("status", "all")),
		Sort:   c.DefaultQuery("sort", "createdAt"),
		Order:  c.DefaultQuery("order", "DESC"),
		Offset: q.Offset(),
		Limit:  q.Limit,
	}
	switch f.Status {
	case StatusAll, StatusActive, StatusExpired:
	default:
		response.Validation(c, "status must be one of all|active|expired")
		return
	}

	items, total, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}

	urls := make([]urlResponse, len(items))
	for i := range items {
		urls[i] = h.toResponse(&items[i])
	}
	meta := pagination.Meta(total, q)
	response.OK(c, gin.H{
		"urls":       urls,
		"total":      meta.Total,
		"page":       meta.Page,
		"limit":      meta.Limit,
		"totalPages": meta.TotalPages,
		"hasNext":    meta.HasNext,
		"hasPrev":    meta.HasPrev,
	})
}

// GET /api/urls/stats
func (h *Handler) stats(c *gin.Context) {
	total, active, expired, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	response.OK(c, gin.H{"total": total, "active": active, "expired": expired})
}

// DELETE /api/urls/:code — admin only.
func (h *Handler) delete(c *gin.Context) {
	deleted, err := h.svc.DeleteByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	if !deleted {
		response.NotFound(c, "code not found")
		return
	}
	response.NoContent(c)
}

// Preview handles GET /:code/preview without redirecting.
func (h *Handler) Preview(c *gin.Context) {
	code := c.Param("code")
	if !codePattern.MatchString(code) {
		response.BadRequest(c, response.CodeInvalidCode, "malformed code")
		return
	}

	record, err := h.svc.FindByCode(c.Request.Context(), code)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	if record == nil {
		response.NotFound(c, "code not found")
		return
	}

	response.OK(c, gin.H{
		"code":      record.Code,
		"original":  record.Original,
		"createdAt": record.CreatedAt,
		"expiresAt": record.ExpiresAt,
		"hitCount":  record.HitCount,
		"isExpired": record.IsExpired(time.Now()),
		"metadata":  record.Metadata,
	})
}

func (h *Handler) parseInput(c *gin.Context, dto CreateUrlDTO) (CreateInput, string, string) {
	in := CreateInput{
		URL:         dto.URL,
		CustomAlias: dto.CustomAlias,
		Metadata:    dto.Metadata,
		CreatorIP:   c.ClientIP(),
		CreatorUA:   c.GetHeader("User-Agent"),
	}
	if dto.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, dto.ExpiresAt)
		if err != nil {
			return in, response.CodeValidation, "expiresAt must be ISO-8601"
		}
		in.ExpiresAt = &t
	}
	return in, "", ""
}

func (h *Handler) writeCreateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidURL):
		response.BadRequest(c, response.CodeInvalidURL, "url must be absolute http(s)")
	case errors.Is(err, ErrURLTooLong):
		response.BadRequest(c, response.CodeURLTooLong, "url exceeds the maximum length")
	case errors.Is(err, ErrAliasInvalid):
		response.BadRequest(c, response.CodeAliasInvalid, err.Error())
	case errors.Is(err, ErrAliasTaken):
		response.BadRequest(c, response.CodeAliasTaken, "alias already in use")
	case errors.Is(err, ErrExpiryInPast):
		response.BadRequest(c, response.CodeExpiryInPast, "expiresAt must be in the future")
	case errors.Is(err, ErrURLBlocked):
		response.BadRequest(c, response.CodeURLBlocked, "url rejected by reputation scan")
	default:
		h.writeStoreError(c, err)
	}
}

func (h *Handler) writeStoreError(c *gin.Context, err error) {
	if isUnavailable(err) {
		response.DependencyUnavailable(c, "primary store unreachable")
		return
	}
	response.InternalError(c)
}

func createErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidURL):
		return response.CodeInvalidURL
	case errors.Is(err, ErrURLTooLong):
		return response.CodeURLTooLong
	case errors.Is(err, ErrAliasInvalid):
		return response.CodeAliasInvalid
	case errors.Is(err, ErrAliasTaken):
		return response.CodeAliasTaken
	case errors.Is(err, ErrExpiryInPast):
		return response.CodeExpiryInPast
	case errors.Is(err, ErrURLBlocked):
		return response.CodeURLBlocked
	default:
		return response.CodeInternal
	}
}

// isUnavailable classifies transport-level failures that should surface as
// 503 instead of 500.
func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
