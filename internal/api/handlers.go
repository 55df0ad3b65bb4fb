package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unattended-backpack/magister/internal/engine"
	"github.com/unattended-backpack/magister/pkg/models"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready body.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// HelloResponse is the /hello liveness body.
type HelloResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Timestamp: time.Now()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now()})
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Ready: false, Timestamp: time.Now()})
		return
	}
	c.JSON(http.StatusOK, ReadyResponse{Ready: true, Timestamp: time.Now()})
}

// handleHello answers a bare liveness check, independent of readiness:
// a Hierophant polling this Magister before initial fill completes should
// still get a response, just not a "ready" one.
func (s *Server) handleHello(c *gin.Context) {
	c.JSON(http.StatusOK, HelloResponse{Message: "magister is listening"})
}

func (s *Server) handleListInstances(c *gin.Context) {
	instances, err := s.engine.GetAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), RequestID: c.GetString("request_id")})
		return
	}
	c.JSON(http.StatusOK, instances)
}

func (s *Server) handleSummary(c *gin.Context) {
	instances, err := s.engine.GetAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), RequestID: c.GetString("request_id")})
		return
	}
	c.JSON(http.StatusOK, models.BuildSummary(instances))
}

func (s *Server) handleDrop(c *gin.Context) {
	offerID, ok := parseOfferID(c)
	if !ok {
		return
	}

	reasonBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body", RequestID: c.GetString("request_id")})
		return
	}
	reason := string(reasonBytes)

	instanceID, err := s.engine.Drop(c.Request.Context(), offerID, reason)
	if err != nil {
		s.writeEngineError(c, err)
		return
	}
	c.String(http.StatusOK, "marked instance %d for drop", instanceID)
}

func (s *Server) handleVerify(c *gin.Context) {
	offerID, ok := parseOfferID(c)
	if !ok {
		return
	}

	if err := s.engine.Verify(c.Request.Context(), offerID); err != nil {
		s.writeEngineError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func parseOfferID(c *gin.Context) (uint64, bool) {
	offerID, err := strconv.ParseUint(c.Param("offer_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "offer_id must be a positive integer",
			RequestID: c.GetString("request_id"),
		})
		return 0, false
	}
	return offerID, true
}

func (s *Server) writeEngineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, engine.ErrUnknownOffer) {
		status = http.StatusBadRequest
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), RequestID: c.GetString("request_id")})
}
