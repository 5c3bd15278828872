package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/symptom-biomarker-engine/internal/domain"
)

// ingestRequest is the assessment submission payload.
type ingestRequest struct {
	AssessmentType string             `json:"assessment_type" binding:"required"`
	EventTime      time.Time          `json:"event_time"`
	Answers        []domain.RawAnswer `json:"answers" binding:"required"`
}

// resolveRequest identifies the reviewer closing a flag.
type resolveRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleIngest(c *gin.Context) {
	userID := c.Param("user_id")

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.EventTime.IsZero() {
		req.EventTime = time.Now().UTC()
	}

	result, err := s.service.Ingest(c.Request.Context(), userID, req.AssessmentType, req.Answers, req.EventTime)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleActiveSymptoms(c *gin.Context) {
	records, err := s.service.ActiveSymptoms(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if records == nil {
		records = []domain.SymptomRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"symptoms": records, "count": len(records)})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	entries, err := s.service.History(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}

func (s *Server) handleActiveFlags(c *gin.Context) {
	flags, err := s.service.ActiveFlags(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if flags == nil {
		flags = []domain.BiomarkerFlag{}
	}
	c.JSON(http.StatusOK, gin.H{"flags": flags, "count": len(flags)})
}

func (s *Server) handleAnalytics(c *gin.Context) {
	summary, err := s.service.Analytics(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleResolveFlag(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	flag, err := s.service.ResolveFlag(c.Request.Context(), c.Param("flag_id"), req.ResolvedBy)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, flag)
}

// writeError maps engine errors to HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrConcurrentWrite):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent write detected, retry the request"})
	default:
		s.log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
