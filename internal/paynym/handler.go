// Package paynym relays lookups to the third-party paynym directory so the
// browser never sees the API token, and validates payment-code structure
// server-side.
package paynym

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paynym-tools/auth47-server/internal/bip47"
)

const (
	nymCachePrefix = "paynym:nym:"
	nymCacheTTL    = 5 * time.Minute
)

// Handler wires the paynym routes onto a Gin group.
type Handler struct {
	client *Client
	rdb    *redis.Client
	rp     *httputil.ReverseProxy
	log    *zap.Logger
}

func NewHandler(client *Client, rdb *redis.Client, log *zap.Logger) *Handler {
	target, _ := url.Parse(client.BaseURL())
	rp := httputil.NewSingleHostReverseProxy(target)

	// Inject the API token on every forwarded request
	orig := rp.Director
	rp.Director = func(req *http.Request) {
		orig(req)
		req.Header.Set("auth-token", client.Token())
		req.Host = target.Host
	}

	return &Handler{client: client, rdb: rdb, rp: rp, log: log}
}

// Register mounts all routes through a single catch-all handler: Gin does
// not allow static siblings next to a wildcard segment.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.Any("/paynym/*path", h.dispatch)
}

func (h *Handler) dispatch(c *gin.Context) {
	path := c.Param("path")
	method := c.Request.Method

	switch {
	case method == http.MethodGet && path == "/validate":
		h.handleValidate(c)
	case method == http.MethodPost && path == "/nym":
		h.handleNym(c)
	default:
		h.forward(c)
	}
}

// handleValidate structurally validates a payment code without touching
// the upstream API.
func (h *Handler) handleValidate(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code parameter"})
		return
	}
	if _, err := bip47.Parse(code); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// handleNym serves profile lookups through a short-lived cache so repeated
// renders of the same nym do not hammer the upstream directory.
func (h *Handler) handleNym(c *gin.Context) {
	var req struct {
		Nym string `json:"nym"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil || req.Nym == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	cacheKey := nymCachePrefix + req.Nym
	if cached, err := h.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	body, err := h.client.Nym(ctx, req.Nym)
	if err != nil {
		h.log.Warn("nym lookup failed", zap.String("nym", req.Nym), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream error"})
		return
	}
	if err := h.rdb.Set(ctx, cacheKey, body, nymCacheTTL).Err(); err != nil {
		h.log.Warn("nym cache write failed", zap.Error(err))
	}
	c.Data(http.StatusOK, "application/json", body)
}

// forward relays any other paynym API call transparently.
func (h *Handler) forward(c *gin.Context) {
	c.Request.URL.Path = c.Param("path")
	h.rp.ServeHTTP(safeWriter{c.Writer}, c.Request)
}

// safeWriter overrides CloseNotify so the reverse proxy never type-asserts
// the underlying writer; *httptest.ResponseRecorder does not implement the
// deprecated http.CloseNotifier and would panic inside net/http.
//
//nolint:staticcheck
type safeWriter struct{ gin.ResponseWriter }

//nolint:staticcheck
func (s safeWriter) CloseNotify() <-chan bool { return make(chan bool, 1) }
