package main

import (
	"context"
	"net/http"
	"time"

	"creator-payments/internal/auth"
	"creator-payments/internal/httpapi"
	"creator-payments/internal/rbac"
	"creator-payments/internal/wallet"
	"creator-payments/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readinessCheck reports whether a backing store is reachable.
type readinessCheck func(ctx context.Context) error

// registerPublicRoutes wires health, metrics and gateway webhooks.
// Webhooks authenticate by signature, not by token.
func registerPublicRoutes(r *gin.Engine, hook webhook.Handler, checks map[string]readinessCheck) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		failed := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/webhook", hook.Handle)
	r.POST("/webhooks/paystack", hook.Handle)
}

// registerProtectedRoutes wires token-authenticated routes.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerProtectedRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	requireWallet := wallet.RequireWallet(h.Wallet)

	// Unversioned alias kept for existing clients.
	r.POST("/payout", authMW, rbac.RequireUser(), h.RequestPayout)

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireUser())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})

		v1.POST("/payout", h.RequestPayout)

		wallets := v1.Group("/wallet")
		{
			wallets.GET("", requireWallet, h.GetWallet)
			wallets.GET("/transactions", h.ListTransactions)
			wallets.GET("/summary", h.EarningsSummary)
		}

		// Hidden system role is not included; super_admin always passes.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleSuperAdmin))
		{
			admin.GET("/wallets/:user_id", h.AdminGetWallet)
		}
	}
}
