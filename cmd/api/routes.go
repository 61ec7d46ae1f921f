package main

import (
	"avalo-ledger/internal/auth"
	"avalo-ledger/internal/httpapi"
	"avalo-ledger/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")

	// AUTH routes (token issuance). Internal gateway only.
	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(authMW)
	{
		protected.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		// WALLET routes: every authenticated user sees their own money.
		wallets := protected.Group("/wallet")
		{
			wallets.GET("/balance", h.GetOwnBalance)
			wallets.GET("/transactions", h.GetOwnHistory)
		}

		protected.GET("/transactions/:tx_id", h.GetTransaction)

		// SPEND: members and creators spend from their own wallet; feature
		// modules (chat, calls, tips) charge the payer they bill.
		protected.POST("/spend",
			rbac.RequireAnyRole(rbac.RoleMember, rbac.RoleCreator, rbac.RoleService),
			h.PostSpend)

		// PURCHASE intake: payment webhook processor only.
		protected.POST("/purchases/credit",
			rbac.RequireAnyRole(rbac.RoleService),
			h.PurchaseCredit)

		// REFUNDS: issued by backend services or the finance team, never by
		// the payer directly.
		protected.POST("/refunds",
			rbac.RequireAnyRole(rbac.RoleService, rbac.RoleFinance),
			h.PostRefund)

		// PAYOUT routes
		payouts := protected.Group("/payouts")
		{
			payouts.POST("",
				rbac.RequireAnyRole(rbac.RoleMember, rbac.RoleCreator),
				h.PostPayoutRequest)
			payouts.POST("/:payout_id/cancel",
				rbac.RequireAnyRole(rbac.RoleMember, rbac.RoleCreator),
				h.CancelPayout)
			payouts.GET("/:payout_id",
				rbac.RequireAnyRole(rbac.RoleMember, rbac.RoleCreator, rbac.RoleFinance, rbac.RolePayoutProcessor),
				h.GetPayout)
			payouts.POST("/:payout_id/transition",
				rbac.RequireAnyRole(rbac.RolePayoutProcessor),
				h.TransitionPayout)
		}

		// FINANCE routes: cross-user visibility for support and reconciliation.
		finance := protected.Group("/users")
		finance.Use(rbac.RequireAnyRole(rbac.RoleFinance))
		{
			finance.GET("/:user_id/balance", h.GetUserBalance)
			finance.GET("/:user_id/transactions", h.GetUserHistory)
		}
	}
}
