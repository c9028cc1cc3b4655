package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
)

// IngestHandler handles episode ingestion and reads.
type IngestHandler struct {
	episodes chronograph.EpisodeManager
	logger   *slog.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(episodes chronograph.EpisodeManager, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		episodes: episodes,
		logger:   logger,
	}
}

// AddEpisode handles POST /api/v1/episodes. The episode is ingested before
// the response is written.
func (h *IngestHandler) AddEpisode(c *gin.Context) {
	var req dto.AddEpisodeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	res, err := h.episodes.AddEpisode(c.Request.Context(), req.ToRequest(time.Now().UTC()))
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "episode ingestion failed",
			"group_id", req.GroupID,
			"episode_id", episodeID(res),
			"error", err)
		writeError(c, statusFor(err), "ingestion_failed", err)
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// AddEpisodes handles POST /api/v1/episodes/bulk. Each episode reports its
// own outcome; the response is 200 even when some fail.
func (h *IngestHandler) AddEpisodes(c *gin.Context) {
	var req dto.AddEpisodesRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	now := time.Now().UTC()
	reqs := make([]*types.AddEpisodeRequest, len(req.Episodes))
	for i := range req.Episodes {
		reqs[i] = req.Episodes[i].ToRequest(now)
	}

	outcomes := h.episodes.AddEpisodes(c.Request.Context(), reqs)
	resp := dto.AddEpisodesResponse{Results: make([]dto.BulkItem, len(outcomes))}
	for i, o := range outcomes {
		resp.Results[i].Result = o.Result
		if o.Err != nil {
			resp.Failed++
			resp.Results[i].Error = o.Err.Error()
			resp.Results[i].Kind = types.KindOf(o.Err)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetEpisode handles GET /api/v1/episodes/:group_id/:uuid
func (h *IngestHandler) GetEpisode(c *gin.Context) {
	ep, err := h.episodes.GetEpisode(c.Request.Context(), c.Param("group_id"), c.Param("uuid"))
	if err != nil {
		writeError(c, statusFor(err), "episode_lookup_failed", err)
		return
	}
	c.JSON(http.StatusOK, ep)
}

// GetEpisodes handles GET /api/v1/episodes/:group_id?limit=n
func (h *IngestHandler) GetEpisodes(c *gin.Context) {
	var q struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	episodes, err := h.episodes.GetEpisodes(c.Request.Context(), c.Param("group_id"), q.Limit)
	if err != nil {
		writeError(c, statusFor(err), "episode_lookup_failed", err)
		return
	}
	if episodes == nil {
		episodes = []*types.EpisodicNode{}
	}
	c.JSON(http.StatusOK, episodes)
}

func episodeID(res *types.AddEpisodeResult) string {
	if res == nil {
		return ""
	}
	return res.EpisodeID
}
