package main

import (
	"context"
	"errors"
	"etix/src/db"
	"etix/src/models"
	"etix/src/types"
	"etix/src/utils"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func connectHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/connect/account", func(ctx *gin.Context) {
			userId := ctx.GetUint("id")
			db := db.GetDb()
			var user models.User
			if err := db.Where(&models.User{ID: userId}).First(&user).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
					return
				}
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			accountId, err := utils.EnsureSellerAccount(context.Background(), &user)
			if err != nil {
				log.Printf("[Connect] Error ensuring account for user %d: %s\n", userId, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			url, err := utils.OnboardingLink(context.Background(), accountId)
			if err != nil {
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": gin.H{
				"account_id":     accountId,
				"onboarding_url": url,
			}})
		}).
		GET("/connect/balance", func(ctx *gin.Context) {
			userId := ctx.GetUint("id")
			balance, err := utils.GetSellerBalance(context.Background(), userId)
			if err != nil {
				log.Printf("[Connect] Error reading balance for user %d: %s\n", userId, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": balance})
		}).
		POST("/connect/withdraw", func(ctx *gin.Context) {
			var body struct {
				AmountCents int64 `json:"amount_cents,omitempty"`
			}
			if err := ctx.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			result, err := utils.InitiateWithdrawal(context.Background(), userId, body.AmountCents)
			if err != nil {
				log.Printf("[Connect] Error initiating withdrawal for user %d: %s\n", userId, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			if result.OnboardingURL != "" {
				// Onboarding incomplete; hand back the hosted flow instead.
				ctx.JSON(http.StatusSeeOther, gin.H{"data": gin.H{"onboarding_url": result.OnboardingURL}})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": gin.H{
				"payout_id":    result.PayoutID,
				"amount_cents": result.AmountCents,
			}})
		})
	return g
}
