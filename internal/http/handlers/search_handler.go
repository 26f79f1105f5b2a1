package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aixiaozi/go-kids-chat/internal/search"
)

// SearchTestRequest is a raw query for the search adapter.
type SearchTestRequest struct {
	Query string `json:"query" example:"恐龙 灭绝 原因"`
}

// SearchTest godoc
// @ID          searchTest
// @Summary     Run a raw web search
// @Tags        Search
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SearchTestRequest  true  "Query"
// @Success     200  {object}  handlers.SuccessResponse{data=search.Results}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Search disabled or upstream down"
// @Router      /search/test [post]
func (h *Handlers) SearchTest(c *gin.Context) {
	var req SearchTestRequest
	_ = c.ShouldBindJSON(&req)
	q := strings.TrimSpace(req.Query)
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "搜索关键词不能为空")
		return
	}
	res, err := h.Search.WebSearch(c.Request.Context(), q, search.DefaultOptions())
	switch {
	case errors.Is(err, search.ErrDisabled):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "搜索服务暂时不可用")
		return
	case err != nil:
		failErr(c, http.StatusServiceUnavailable, ErrCodeSearchFailed, "搜索服务暂时不可用", err)
		return
	}
	ok(c, http.StatusOK, res)
}

// SearchStatus godoc
// @ID          searchStatus
// @Summary     Search adapter configuration
// @Tags        Search
// @Produce     json
// @Success     200  {object}  handlers.SuccessResponse{data=search.Status}
// @Router      /search/status [get]
func (h *Handlers) SearchStatus(c *gin.Context) {
	ok(c, http.StatusOK, h.Search.Status())
}
