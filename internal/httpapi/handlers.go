package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"avalo-ledger/internal/auth"
	"avalo-ledger/internal/ledger"
	"avalo-ledger/internal/payout"
	"avalo-ledger/internal/purchase"
	"avalo-ledger/internal/rbac"
	"avalo-ledger/internal/refund"
	"avalo-ledger/internal/spend"
	"avalo-ledger/internal/token"
	"avalo-ledger/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Wallet   *wallet.Store
	Ledger   *ledger.Service
	Purchase *purchase.Service
	Spend    *spend.Coordinator
	Refund   *refund.Coordinator
	Payout   *payout.Manager
}

// writeError maps engine error kinds onto HTTP statuses. Handlers never
// leak internal error text for unexpected failures.
func writeError(c *gin.Context, err error) {
	var ineligible *token.PayoutIneligibleError
	switch {
	case errors.Is(err, token.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, token.ErrInsufficientBalance):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
	case errors.Is(err, token.ErrRateLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
	case errors.Is(err, token.ErrContentionExhausted),
		errors.Is(err, token.ErrRefundExceedsOriginal),
		errors.Is(err, token.ErrInvalidPayoutTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, token.ErrWalletNotFound),
		errors.Is(err, token.ErrTransactionNotFound),
		errors.Is(err, token.ErrOriginalTransactionNotFound),
		errors.Is(err, token.ErrPayoutNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &ineligible):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "payout ineligible", "reason": string(ineligible.Reason)})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func callerID(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

/* ===================== AUTH ===================== */

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Credential validation lives in the accounts service; this endpoint is
// only reachable through the internal gateway.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

/* ===================== WALLET ===================== */

func (h Handlers) GetOwnBalance(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	h.respondBalance(c, uid)
}

// GetUserBalance is the finance/support view of any wallet.
func (h Handlers) GetUserBalance(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	h.respondBalance(c, userID)
}

func (h Handlers) respondBalance(c *gin.Context, userID string) {
	bal, err := h.Wallet.GetBalance(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

/* ===================== LEDGER ===================== */

func (h Handlers) GetOwnHistory(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	h.respondHistory(c, uid)
}

func (h Handlers) GetUserHistory(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	h.respondHistory(c, userID)
}

func (h Handlers) respondHistory(c *gin.Context, userID string) {
	req := ledger.HistoryRequest{
		UserID: userID,
		Source: token.ContextType(c.Query("source")),
		Cursor: c.Query("cursor"),
	}
	if v := c.Query("types"); v != "" {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				req.Types = append(req.Types, token.TxType(p))
			}
		}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		req.Limit = n
	}

	page, err := h.Ledger.History(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h Handlers) GetTransaction(c *gin.Context) {
	txID := c.Param("tx_id")
	if txID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tx_id required"})
		return
	}
	t, err := h.Ledger.Get(c.Request.Context(), txID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

/* ===================== PURCHASE ===================== */

type purchaseCreditRequest struct {
	UserID         string `json:"user_id"`
	PackID         string `json:"pack_id"`
	IdempotencyKey string `json:"idempotency_key"`
	AmountTokens   int64  `json:"amount_tokens"`
}

// PurchaseCredit is called by the payment webhook processor after a gateway
// confirms a token pack purchase. RBAC: service role only.
func (h Handlers) PurchaseCredit(c *gin.Context) {
	var req purchaseCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Purchase.Credit(c.Request.Context(), purchase.CreditRequest{
		UserID:         req.UserID,
		PackID:         req.PackID,
		IdempotencyKey: req.IdempotencyKey,
		AmountTokens:   req.AmountTokens,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

/* ===================== SPEND ===================== */

type spendRequest struct {
	Amount    int64  `json:"amount"`
	Context   string `json:"context"`
	RelatedID string `json:"related_id"`
	CreatorID string `json:"creator_id"`
	// PayerID is honored only for service callers; for end users the payer
	// is always the token subject.
	PayerID string `json:"payer_id"`
}

// PostSpend debits the payer. End users spend from their own wallet; feature
// modules authenticate with the service role and name the payer they bill.
func (h Handlers) PostSpend(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req spendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	payer := uid
	if role, _ := auth.Role(c.Request.Context()); role == rbac.RoleService {
		if req.PayerID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "payer_id required"})
			return
		}
		payer = req.PayerID
	}
	res, err := h.Spend.Spend(c.Request.Context(), spend.Request{
		PayerID:   payer,
		Amount:    req.Amount,
		Context:   token.ContextType(req.Context),
		RelatedID: req.RelatedID,
		CreatorID: req.CreatorID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

/* ===================== REFUND ===================== */

type refundRequest struct {
	PayerID             string `json:"payer_id"`
	Amount              int64  `json:"amount"`
	OriginalTxID        string `json:"original_tx_id"`
	RelatedID           string `json:"related_id"`
	Reason              string `json:"reason"`
	RefundPlatformShare bool   `json:"refund_platform_share"`
	EarnerID            string `json:"earner_id"`
}

// PostRefund reverses a spend. RBAC: service or finance; members never refund
// themselves directly.
func (h Handlers) PostRefund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Refund.Refund(c.Request.Context(), refund.Request{
		PayerID:             req.PayerID,
		Amount:              req.Amount,
		OriginalTxID:        req.OriginalTxID,
		RelatedID:           req.RelatedID,
		Reason:              req.Reason,
		RefundPlatformShare: req.RefundPlatformShare,
		EarnerID:            req.EarnerID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

/* ===================== PAYOUT ===================== */

type payoutRequestBody struct {
	AmountTokens int64  `json:"amount_tokens"`
	PayoutMethod string `json:"payout_method"`
	Currency     string `json:"currency"`

	// KYCVerified is injected by the gateway from the identity service; the
	// client cannot set it on the public surface.
	KYCVerified bool `json:"kyc_verified"`
}

func (h Handlers) PostPayoutRequest(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req payoutRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := h.Payout.RequestPayout(c.Request.Context(), payout.Request{
		UserID:       uid,
		AmountTokens: req.AmountTokens,
		PayoutMethod: req.PayoutMethod,
		Currency:     req.Currency,
		KYCVerified:  req.KYCVerified,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h Handlers) GetPayout(c *gin.Context) {
	id := c.Param("payout_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "payout_id required"})
		return
	}
	p, err := h.Payout.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) CancelPayout(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	id := c.Param("payout_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "payout_id required"})
		return
	}
	p, err := h.Payout.Cancel(c.Request.Context(), id, uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type payoutTransitionRequest struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// TransitionPayout is the processor callback. RBAC: payout_processor only.
func (h Handlers) TransitionPayout(c *gin.Context) {
	id := c.Param("payout_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "payout_id required"})
		return
	}
	var req payoutTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := h.Payout.Transition(c.Request.Context(), id, token.PayoutStatus(req.Status), req.FailureReason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
