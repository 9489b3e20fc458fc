package main

import (
	"errors"
	"etix/src/db"
	"etix/src/models"
	"etix/src/types"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func subscriptionHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/subscription", func(ctx *gin.Context) {
			userId := ctx.GetUint("id")
			db := db.GetDb()
			var sub models.Subscription
			err := db.
				Model(&models.Subscription{}).
				Where(&models.Subscription{UserID: userId}).
				First(&sub).
				Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// Never subscribed reads the same as canceled base.
					ctx.JSON(http.StatusOK, gin.H{"data": gin.H{
						"tier":   types.TIER_BASE,
						"status": types.SUBSCRIPTION_CANCELED,
					}})
					return
				}
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": sub})
		})
	return g
}
