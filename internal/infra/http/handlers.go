package http

import (
	"errors"
	"fmt"
	"net/http"

	"mlsvalidation/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	routeKeyPackages    = "key-packages:validate"
	routeGroupMessages  = "group-messages:validate"
	routeIdentityUpdate = "identity-updates:validate"
	routeBatch          = "validate"
)

var errBatchTooLarge = errors.New("batch too large")

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type keyPackagesRequest struct {
	KeyPackages [][]byte `json:"key_packages"`
}

type groupMessageInput struct {
	Data    []byte  `json:"data"`
	GroupID []byte  `json:"group_id,omitempty"`
	Epoch   *uint64 `json:"epoch,omitempty"`
}

type groupMessagesRequest struct {
	GroupMessages []groupMessageInput `json:"group_messages"`
}

type identityUpdatesRequest struct {
	Logs []domain.UpdateLog `json:"logs"`
}

type batchRequest struct {
	Requests []domain.ValidationRequest `json:"requests"`
}

func (s *Server) handleKeyPackages(c *gin.Context) {
	var req keyPackagesRequest
	if !s.bind(c, routeKeyPackages, &req, func() int { return len(req.KeyPackages) }) {
		return
	}
	verdicts := s.svc.ValidateKeyPackages(c.Request.Context(), req.KeyPackages)
	s.writeVerdicts(c, verdicts)
}

func (s *Server) handleGroupMessages(c *gin.Context) {
	var req groupMessagesRequest
	if !s.bind(c, routeGroupMessages, &req, func() int { return len(req.GroupMessages) }) {
		return
	}
	messages := make([]domain.GroupMessageRequest, len(req.GroupMessages))
	for i, m := range req.GroupMessages {
		messages[i] = domain.GroupMessageRequest{
			Data:    m.Data,
			Context: domain.GroupContext{GroupID: m.GroupID, Epoch: m.Epoch},
		}
	}
	verdicts := s.svc.ValidateGroupMessages(c.Request.Context(), messages)
	s.writeVerdicts(c, verdicts)
}

func (s *Server) handleIdentityUpdates(c *gin.Context) {
	var req identityUpdatesRequest
	if !s.bind(c, routeIdentityUpdate, &req, func() int { return len(req.Logs) }) {
		return
	}
	verdicts := s.svc.ValidateIdentityUpdates(c.Request.Context(), req.Logs)
	s.writeVerdicts(c, verdicts)
}

func (s *Server) handleValidateBatch(c *gin.Context) {
	var req batchRequest
	if !s.bind(c, routeBatch, &req, func() int { return len(req.Requests) }) {
		return
	}
	verdicts := s.svc.ValidateBatch(c.Request.Context(), req.Requests)
	s.writeVerdicts(c, verdicts)
}

func (s *Server) handleNoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		switch c.Request.URL.Path {
		case "/v1/" + routeKeyPackages:
			s.handleKeyPackages(c)
			return
		case "/v1/" + routeGroupMessages:
			s.handleGroupMessages(c)
			return
		case "/v1/" + routeIdentityUpdate:
			s.handleIdentityUpdates(c)
			return
		}
	}
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

// bind applies the rate limit, decodes the envelope and enforces the batch
// limit. It writes the response itself and returns false on failure.
func (s *Server) bind(c *gin.Context, routeID string, req any, size func() int) bool {
	if !s.enforceRateLimit(c, routeID) {
		return false
	}
	if s.svc == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "validation service not configured")
		return false
	}
	if s.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes)
	}
	if err := c.ShouldBindJSON(req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, fmt.Errorf("%w: body exceeds %d bytes", errBatchTooLarge, tooLarge.Limit))
			return false
		}
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return false
	}
	if n := size(); s.maxBatchSize > 0 && n > s.maxBatchSize {
		writeError(c, fmt.Errorf("%w: %d items, limit %d", errBatchTooLarge, n, s.maxBatchSize))
		return false
	}
	return true
}

func (s *Server) writeVerdicts(c *gin.Context, verdicts any) {
	c.JSON(http.StatusOK, gin.H{
		"request_id": requestIDFrom(c),
		"verdicts":   verdicts,
	})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, errBatchTooLarge):
		status, code = http.StatusBadRequest, "BATCH_TOO_LARGE"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
