package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/server/dto"
)

// RetrieveHandler handles search and community requests.
type RetrieveHandler struct {
	querier     chronograph.GraphQuerier
	communities chronograph.CommunityManager
	logger      *slog.Logger
}

// NewRetrieveHandler creates a new retrieve handler
func NewRetrieveHandler(querier chronograph.GraphQuerier, communities chronograph.CommunityManager, logger *slog.Logger) *RetrieveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrieveHandler{
		querier:     querier,
		communities: communities,
		logger:      logger,
	}
}

// Search handles POST /api/v1/search
func (h *RetrieveHandler) Search(c *gin.Context) {
	var q dto.SearchQuery
	if !bindJSON(c, &q) {
		return
	}
	req, err := q.ToRequest()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	res, err := h.querier.Search(c.Request.Context(), req)
	if err != nil {
		writeError(c, statusFor(err), "search_failed", err)
		return
	}

	if q.Format == dto.FormatContext {
		text, err := search.SearchResultsToContextString(res, false)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "search_failed", err)
			return
		}
		c.JSON(http.StatusOK, dto.ContextResponse{Context: text, Warnings: res.Warnings})
		return
	}
	c.JSON(http.StatusOK, dto.NewSearchResponse(res))
}

// BuildCommunities handles POST /api/v1/communities/:group_id
func (h *RetrieveHandler) BuildCommunities(c *gin.Context) {
	groupID := c.Param("group_id")
	res, err := h.communities.BuildCommunities(c.Request.Context(), groupID)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "community build failed", "group_id", groupID, "error", err)
		writeError(c, statusFor(err), "community_build_failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetCommunities handles GET /api/v1/communities/:group_id
func (h *RetrieveHandler) GetCommunities(c *gin.Context) {
	communities, err := h.communities.GetCommunities(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		writeError(c, statusFor(err), "community_lookup_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"communities": communities, "total": len(communities)})
}
