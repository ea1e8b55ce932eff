// Package server wires the Auth47 demo's HTTP surface: challenge issuance,
// status polling, the two redemption paths, and the guestbook they unlock.
package server

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paynym-tools/auth47-server/internal/auth47"
	"github.com/paynym-tools/auth47-server/internal/challenge"
	"github.com/paynym-tools/auth47-server/internal/guestbook"
)

// resultPage is the human-facing status page the callback path redirects
// to; the browser polls the status endpoint from there.
const resultPage = "/r"

const recentMessages = 100

// Handler wires up the auth47 and guestbook routes onto a Gin group.
type Handler struct {
	issuer   *challenge.Issuer
	verifier *auth47.Verifier
	store    *challenge.Store
	rdb      *redis.Client
	log      *zap.Logger
}

func NewHandler(issuer *challenge.Issuer, verifier *auth47.Verifier, store *challenge.Store, rdb *redis.Client, log *zap.Logger) *Handler {
	return &Handler{issuer: issuer, verifier: verifier, store: store, rdb: rdb, log: log}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth47/challenge", h.handleIssue)
	rg.GET("/auth47/status/:nonce", h.handleStatus)
	rg.POST("/auth47/verify", h.handleVerify)
	rg.POST("/auth47/callback", h.handleCallback)
	rg.POST("/guestbook", h.handlePostMessage)
	rg.GET("/guestbook", h.handleListMessages)
}

// ── Issuance ────────────────────────────────────────────────────────────────

func (h *Handler) handleIssue(c *gin.Context) {
	issued, err := h.issuer.Issue()
	if err != nil {
		h.log.Error("issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issuance_failed"})
		return
	}
	c.JSON(http.StatusOK, issued)
}

// ── Status polling ──────────────────────────────────────────────────────────

// handleStatus reports pending/verified/invalid for a nonce. Unknown,
// expired-and-swept, and bogus nonces all read as invalid; the poller does
// not distinguish them. Caching is disabled so repeated polls see fresh
// state.
func (h *Handler) handleStatus(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	rec, ok := h.store.Get(c.Param("nonce"))
	switch {
	case !ok:
		c.JSON(http.StatusOK, gin.H{"state": "invalid"})
	case rec.Verified:
		c.JSON(http.StatusOK, gin.H{"state": "verified", "nym": rec.Nym})
	default:
		c.JSON(http.StatusOK, gin.H{"state": "pending"})
	}
}

// ── Redemption: direct path ─────────────────────────────────────────────────

func (h *Handler) handleVerify(c *gin.Context) {
	var proof auth47.Proof
	if err := c.ShouldBind(&proof); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": auth47.ErrMalformedProof.Code})
		return
	}

	nym, err := h.verifier.Redeem(proof)
	if err != nil {
		var verr *auth47.VerifyError
		if errors.As(err, &verr) {
			c.JSON(statusFor(verr), gin.H{"error": verr.Code})
			return
		}
		h.log.Error("redeem failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nym": nym})
}

func statusFor(err *auth47.VerifyError) int {
	switch err {
	case auth47.ErrMalformedProof, auth47.ErrMalformedChallenge:
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

// ── Redemption: callback path ───────────────────────────────────────────────

// callbackOutcome is the tagged result of a wallet callback. All outcomes
// funnel into one render step: the wallet is not a programmatic consumer,
// so detail is logged but never returned to it.
type callbackOutcome struct {
	nonce string
	nym   string
	err   error
}

// handleCallback receives the proof a wallet POSTs out-of-band. Whatever
// happens, the caller is redirected to the status page; the browser that
// displayed the QR observes the result through polling.
func (h *Handler) handleCallback(c *gin.Context) {
	var proof auth47.Proof
	out := callbackOutcome{}

	if err := c.ShouldBind(&proof); err != nil {
		out.err = auth47.ErrMalformedProof
	} else {
		// Best-effort nonce extraction so even a failed redemption can
		// point the status page at the right challenge.
		if ch, err := auth47.ParseChallenge(proof.Challenge); err == nil {
			out.nonce = ch.Nonce
		}
		out.nym, out.err = h.verifier.Redeem(proof)
	}

	h.renderCallback(c, out)
}

func (h *Handler) renderCallback(c *gin.Context, out callbackOutcome) {
	if out.err != nil {
		h.log.Warn("callback redemption rejected",
			zap.String("nonce", out.nonce),
			zap.Error(out.err),
		)
	} else {
		h.log.Info("callback redemption verified",
			zap.String("nonce", out.nonce),
			zap.String("nym", out.nym),
		)
	}

	target := resultPage
	if out.nonce != "" {
		target += "?nonce=" + url.QueryEscape(out.nonce)
	}
	c.Redirect(http.StatusFound, target)
}

// ── Guestbook ───────────────────────────────────────────────────────────────

type postMessageRequest struct {
	Nonce string `json:"nonce" binding:"required"`
	Text  string `json:"text" binding:"required"`
}

// handlePostMessage performs the one-shot consumption: a verified record
// unlocks exactly one message. The record is claimed atomically before the
// write, so concurrent posts on one nonce yield one message; a write
// failure releases the claim and leaves the redemption spendable.
func (h *Handler) handlePostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nonce and text are required"})
		return
	}
	if len(req.Text) > guestbook.MaxText {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}

	rec, ok := h.store.Claim(req.Nonce)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_verified"})
		return
	}

	msg := guestbook.Message{
		Nym:      rec.Nym,
		Text:     req.Text,
		PostedAt: time.Now().Unix(),
	}
	if err := guestbook.Append(c.Request.Context(), h.rdb, msg); err != nil {
		h.store.Release(rec)
		h.log.Error("guestbook append failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) handleListMessages(c *gin.Context) {
	msgs, err := guestbook.Recent(c.Request.Context(), h.rdb, recentMessages)
	if err != nil {
		h.log.Error("guestbook list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
