package wallet

import (
	"context"
	"errors"
	"net/http"

	"creator-payments/internal/auth"

	"github.com/gin-gonic/gin"
)

const ctxWalletKey = "wallet"

// Reader is the minimal wallet service interface needed by middleware.
type Reader interface {
	GetWallet(ctx context.Context, userID string) (Wallet, error)
}

// RequireWallet loads the caller's wallet and stores it on the gin context.
//
// It only answers "does this user have a wallet". It never decides whether a
// balance is sufficient; that check belongs to the conditional update.
func RequireWallet(svc Reader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := auth.UserID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}

		w, err := svc.GetWallet(c.Request.Context(), userID)
		if errors.Is(err, ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet lookup failed"})
			return
		}

		c.Set(ctxWalletKey, w)
		c.Next()
	}
}

// FromGin returns the wallet loaded by RequireWallet.
func FromGin(c *gin.Context) (Wallet, bool) {
	v, ok := c.Get(ctxWalletKey)
	if !ok {
		return Wallet{}, false
	}
	w, ok := v.(Wallet)
	return w, ok
}
