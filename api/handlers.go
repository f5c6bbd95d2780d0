package api

import (
	"errors"
	"net/http"
	"time"

	sdkerrors "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/gin-gonic/gin"

	"github.com/gridmesh/gridmesh/core/types"
)

// Version is stamped at build time.
var Version = "dev"

type submitJobRequest struct {
	Requester  string   `json:"requester" binding:"required"`
	MinTier    int      `json:"min_tier"`
	Tags       []string `json:"tags" binding:"required"`
	PayloadRef string   `json:"payload_ref" binding:"required"`
	Escrow     string   `json:"escrow" binding:"required"`
	TTLSeconds int64    `json:"ttl_seconds" binding:"required"`
}

type stakeRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version})
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	escrowAmt, ok := math.NewIntFromString(req.Escrow)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "escrow must be an integer amount"})
		return
	}
	if req.TTLSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "ttl_seconds must be positive"})
		return
	}
	tags := make([]types.Capability, len(req.Tags))
	for i, t := range req.Tags {
		tags[i] = types.Capability(t)
	}
	requirements := types.Requirements{
		MinTier: req.MinTier,
		Tags:    types.NewCapabilitySet(tags...),
	}
	expiresAt := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)

	job, err := s.coord.SubmitJob(c.Request.Context(), req.Requester, requirements, req.PayloadRef, escrowAmt, expiresAt)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *Server) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.coord.Jobs()})
}

func (s *Server) handleGetJob(c *gin.Context) {
	id, err := types.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid job id"})
		return
	}
	job, err := s.coord.Job(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleGetAssignments(c *gin.Context) {
	id, err := types.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid job id"})
		return
	}
	assignments, err := s.coord.Assignments(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}

func (s *Server) handleGetSettlement(c *gin.Context) {
	id, err := types.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid job id"})
		return
	}
	rec, err := s.coord.Settlement(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	id, err := types.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid job id"})
		return
	}
	if err := s.coord.CancelJob(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "job_id": id})
}

func (s *Server) handleListWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": s.coord.Workers()})
}

func (s *Server) handleGetWorker(c *gin.Context) {
	id, err := types.ParseWorkerID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid worker id"})
		return
	}
	worker, err := s.coord.Worker(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (s *Server) handleGetStake(c *gin.Context) {
	id, err := types.ParseWorkerID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid worker id"})
		return
	}
	account, err := s.coord.StakeAccount(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleGetSlashes(c *gin.Context) {
	id, err := types.ParseWorkerID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid worker id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"slashes": s.coord.SlashHistory(id)})
}

func (s *Server) handleStake(c *gin.Context) {
	id, amount, ok := s.bindStakeRequest(c)
	if !ok {
		return
	}
	account, err := s.coord.Stake(id, amount)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleRequestUnstake(c *gin.Context) {
	id, amount, ok := s.bindStakeRequest(c)
	if !ok {
		return
	}
	account, err := s.coord.RequestUnstake(id, amount)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleFinalizeUnstake(c *gin.Context) {
	id, err := types.ParseWorkerID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid worker id"})
		return
	}
	released, err := s.coord.FinalizeUnstake(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

func (s *Server) handleSlash(c *gin.Context) {
	id, amount, ok := s.bindStakeRequest(c)
	if !ok {
		return
	}
	cut, err := s.coord.SlashWorker(id, amount)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slashed": cut})
}

func (s *Server) bindStakeRequest(c *gin.Context) (types.WorkerID, math.Int, bool) {
	id, err := types.ParseWorkerID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid worker id"})
		return "", math.Int{}, false
	}
	var req stakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return "", math.Int{}, false
	}
	amount, ok := math.NewIntFromString(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "amount must be an integer"})
		return "", math.Int{}, false
	}
	return id, amount, true
}

// respondError maps core sentinel errors to HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrJobNotFound),
		errors.Is(err, types.ErrWorkerNotFound),
		errors.Is(err, types.ErrAssignmentNotFound),
		errors.Is(err, types.ErrStakeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrIllegalTransition),
		errors.Is(err, types.ErrStaleEpoch),
		errors.Is(err, types.ErrUnbondingNotElapsed),
		errors.Is(err, types.ErrUnstakeHeld),
		errors.Is(err, types.ErrNoPendingUnstake):
		status = http.StatusConflict
	case errors.Is(err, types.ErrInsufficientFunds),
		errors.Is(err, types.ErrInsufficientStake),
		errors.Is(err, types.ErrEscrowLock):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrVerificationInconclusive):
		status = http.StatusConflict
	}

	body := gin.H{"error": "request_failed", "message": err.Error()}
	var sdkErr *sdkerrors.Error
	if errors.As(err, &sdkErr) {
		body["code"] = sdkErr.ABCICode()
	}
	c.JSON(status, body)
}
