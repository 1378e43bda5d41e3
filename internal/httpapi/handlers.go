package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"prodsync/internal/consistency"
	"prodsync/internal/store"
	"prodsync/internal/syncer"
)

// syncRequest is the POST /sync/feishu body. Option pointers distinguish
// "not sent" from an explicit false or zero.
type syncRequest struct {
	Mode       string       `json:"mode"`
	ProductIDs []string     `json:"productIds"`
	Options    *syncOptions `json:"options"`
}

type syncOptions struct {
	DownloadImages   *bool `json:"downloadImages"`
	ValidateData     *bool `json:"validateData"`
	DryRun           *bool `json:"dryRun"`
	BatchSize        *int  `json:"batchSize"`
	ConcurrentImages *int  `json:"concurrentImages"`
}

func (r syncRequest) toOptions() syncer.Options {
	opts := syncer.DefaultOptions(r.Mode)
	opts.ProductIDs = r.ProductIDs

	if o := r.Options; o != nil {
		if o.DownloadImages != nil {
			opts.DownloadImages = *o.DownloadImages
		}

		if o.ValidateData != nil {
			opts.ValidateData = *o.ValidateData
		}

		if o.DryRun != nil {
			opts.DryRun = *o.DryRun
		}

		if o.BatchSize != nil {
			opts.BatchSize = *o.BatchSize
		}

		if o.ConcurrentImages != nil {
			opts.ConcurrentImages = *o.ConcurrentImages
		}
	}

	return opts
}

func (s *Server) handleStartSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidParams, "invalid request body: "+err.Error())

		return
	}

	info, err := s.engine.StartAsync(c.Request.Context(), req.toOptions())

	switch {
	case errors.Is(err, syncer.ErrSyncConflict):
		respondError(c, http.StatusConflict, CodeConflict, "a sync is already running")

		return
	case errors.Is(err, syncer.ErrMissingProductIDs):
		respondError(c, http.StatusBadRequest, CodeMissingProductIDs, "selective sync requires productIds")

		return
	case errors.Is(err, syncer.ErrInvalidMode):
		respondError(c, http.StatusBadRequest, CodeInvalidParams,
			fmt.Sprintf("invalid mode %q: expected full, incremental, or selective", req.Mode))

		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, CodeInternalError, err.Error())

		return
	}

	estimate := "unknown"
	if info.EstimatedDuration > 0 {
		estimate = info.EstimatedDuration.Round(time.Second).String()
	}

	respondOK(c, http.StatusAccepted, gin.H{
		"syncId":             info.SyncID,
		"status":             "started",
		"startTime":          info.StartTime.Format(time.RFC3339),
		"estimatedDuration":  estimate,
		"progressChannelUrl": "/sync/progress/ws",
	}, "sync started")
}

func (s *Server) handleStatus(c *gin.Context) {
	current, last, err := s.engine.Status(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternalError, err.Error())

		return
	}

	data := gin.H{}

	if current != nil {
		data["currentSync"] = current
	}

	if last != nil {
		data["lastSync"] = last
	}

	respondOK(c, http.StatusOK, data, "")
}

type controlRequest struct {
	Action string `json:"action"`
	SyncID string `json:"syncId"`
}

func (s *Server) handleControl(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidParams, "invalid request body: "+err.Error())

		return
	}

	err := s.engine.Control(c.Request.Context(), req.Action, req.SyncID)

	switch {
	case errors.Is(err, syncer.ErrNoActiveSync):
		respondError(c, http.StatusNotFound, CodeNotFound, "no matching sync is running")

		return
	case errors.Is(err, syncer.ErrInvalidAction):
		respondError(c, http.StatusBadRequest, CodeInvalidParams,
			fmt.Sprintf("invalid action %q: expected pause, resume, or cancel", req.Action))

		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, CodeInternalError, err.Error())

		return
	}

	respondOK(c, http.StatusOK, nil, "sync "+req.Action+" accepted")
}

func (s *Server) handleHistory(c *gin.Context) {
	filter := store.SyncLogFilter{
		Status:   c.Query("status"),
		SyncType: c.Query("mode"),
		Page:     1,
		Limit:    20,
	}

	var err error

	if raw := c.Query("page"); raw != "" {
		if filter.Page, err = strconv.Atoi(raw); err != nil || filter.Page < 1 {
			respondError(c, http.StatusBadRequest, CodeInvalidParams, "page must be a positive integer")

			return
		}
	}

	if raw := c.Query("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 1 {
			respondError(c, http.StatusBadRequest, CodeInvalidParams, "limit must be a positive integer")

			return
		}
	}

	if raw := c.Query("startDate"); raw != "" {
		if filter.StartDate, err = time.Parse(time.RFC3339, raw); err != nil {
			respondError(c, http.StatusBadRequest, CodeInvalidParams, "startDate must be RFC3339")

			return
		}
	}

	if raw := c.Query("endDate"); raw != "" {
		if filter.EndDate, err = time.Parse(time.RFC3339, raw); err != nil {
			respondError(c, http.StatusBadRequest, CodeInvalidParams, "endDate must be RFC3339")

			return
		}
	}

	records, pagination, err := s.history.FindFilteredSyncLogs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternalError, err.Error())

		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"records":    records,
		"pagination": pagination,
	}, "")
}

func (s *Server) handleValidate(c *gin.Context) {
	var req consistency.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidParams, "invalid request body: "+err.Error())

		return
	}

	report, err := s.checker.Validate(c.Request.Context(), req)

	switch {
	case errors.Is(err, consistency.ErrMissingProductIDs):
		respondError(c, http.StatusBadRequest, CodeMissingProductIDs, "selective scope requires productIds")

		return
	case errors.Is(err, consistency.ErrInvalidScope), errors.Is(err, consistency.ErrInvalidCheck):
		respondError(c, http.StatusBadRequest, CodeInvalidParams, err.Error())

		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, CodeInternalError, err.Error())

		return
	}

	respondOK(c, http.StatusOK, report, "")
}

func (s *Server) handleRepair(c *gin.Context) {
	var req consistency.RepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidParams, "invalid request body: "+err.Error())

		return
	}

	report, err := s.checker.Repair(c.Request.Context(), req)

	switch {
	case errors.Is(err, consistency.ErrInvalidIssueType):
		respondError(c, http.StatusBadRequest, CodeInvalidParams, err.Error())

		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, CodeInternalError, err.Error())

		return
	}

	respondOK(c, http.StatusOK, report, "")
}
