package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/roundvote/internal/apperr"
	"github.com/lvdashuaibi/roundvote/internal/auth"
)

type credentialsRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type voteRequest struct {
	Participant string `json:"participant"`
}

// votingRequest 时间为 unix 秒
type votingRequest struct {
	InitDate int64 `json:"initDate"`
	EndDate  int64 `json:"endDate"`
}

type participantRequest struct {
	Name string `json:"name"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.svc.Register(c.Request.Context(), req.Name, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req.Name, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) vote(c *gin.Context) {
	claims, ok := auth.ClaimsFromGin(c)
	if !ok {
		h.writeError(c, apperr.New(apperr.Unauthenticated, "rest.vote", "缺少身份信息"))
		return
	}
	var req voteRequest
	if !h.bind(c, &req) {
		return
	}
	vote, err := h.svc.CastVote(c.Request.Context(), c.Query("voting"), req.Participant, claims.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vote": vote})
}

func (h *Handler) results(c *gin.Context) {
	entry, err := h.svc.GetResult(c.Request.Context(), c.Query("voting"), c.Query("participant"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": entry})
}

func (h *Handler) listVotings(c *gin.Context) {
	rounds, err := h.svc.ListOpenRounds(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"votings": rounds})
}

func (h *Handler) createVoting(c *gin.Context) {
	var req votingRequest
	if !h.bind(c, &req) {
		return
	}
	round, err := h.svc.CreateRound(c.Request.Context(), time.Unix(req.InitDate, 0), time.Unix(req.EndDate, 0))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voting": round})
}

func (h *Handler) closeVoting(c *gin.Context) {
	round, err := h.svc.CloseRound(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voting": round})
}

func (h *Handler) listParticipants(c *gin.Context) {
	participants, err := h.svc.ListParticipants(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

func (h *Handler) createParticipant(c *gin.Context) {
	var req participantRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := h.svc.CreateParticipant(c.Request.Context(), req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant": p})
}

func (h *Handler) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.writeError(c, apperr.E(apperr.InvalidInput, "rest.bind", err))
		return false
	}
	return true
}

// StatusFor 错误类型到 HTTP 状态码
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Unauthenticated, apperr.InvalidCredential:
		return http.StatusUnauthorized
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.RoundClosed, apperr.DuplicateVote:
		return http.StatusConflict
	case apperr.InvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("请求处理失败")
	} else {
		h.log.WithError(err).Debug("请求被拒绝")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.KindOf(err).String()})
}
