package main

import (
	"context"
	"errors"
	"etix/src/db"
	"etix/src/fees"
	"etix/src/models"
	"etix/src/types"
	"etix/src/utils"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func paymentHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/create-payment-intent", func(ctx *gin.Context) {
			var body types.CreatePaymentIntentRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			var result *utils.IntentResult
			var err error
			switch types.PaymentType(body.Type) {
			case types.PAYMENT_FAVOR_PURCHASE:
				result, err = utils.CreateFavorPurchaseIntent(context.Background(), &body, userId)
			default:
				result, err = utils.CreatePrimaryPurchaseIntent(context.Background(), &body, userId)
			}
			if err != nil {
				log.Printf("[Payments] Error creating intent for user %d: %s\n", userId, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": types.PaymentIntentResponse{
				PaymentIntentID: result.PaymentIntentID,
				ClientSecret:    result.ClientSecret,
				CustomerID:      result.CustomerID,
				EphemeralKey:    result.EphemeralKey,
				PaymentID:       result.PaymentID.String(),
				FeeBreakdown: &types.FeeBreakdownResponse{
					BaseCents:         result.Breakdown.BaseCents,
					PlatformFeeCents:  result.Breakdown.PlatformFeeCents,
					ProcessorFeeCents: result.Breakdown.ProcessorFeeCents,
					ServiceFeeCents:   result.Breakdown.ServiceFeeCents,
					TotalCents:        result.Breakdown.TotalCents,
				},
			}})
		}).
		POST("/create-resale-intent", func(ctx *gin.Context) {
			var body types.CreateResaleIntentRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			result, err := utils.CreateResalePurchaseIntent(context.Background(), &body, userId)
			if err != nil {
				log.Printf("[Payments] Error creating resale intent for user %d: %s\n", userId, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": types.PaymentIntentResponse{
				PaymentIntentID:   result.PaymentIntentID,
				ClientSecret:      result.ClientSecret,
				CustomerID:        result.CustomerID,
				EphemeralKey:      result.EphemeralKey,
				PaymentID:         result.PaymentID.String(),
				PlatformFeeCents:  result.PlatformFeeCents,
				SellerAmountCents: result.SellerAmountCents,
			}})
		}).
		GET("/fees/quote", func(ctx *gin.Context) {
			baseParam := ctx.Query("base_cents")
			base, err := strconv.ParseInt(baseParam, 10, 64)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "base_cents must be an integer"})
				return
			}
			b := fees.Compute(base)
			ctx.JSON(http.StatusOK, gin.H{"data": types.FeeBreakdownResponse{
				BaseCents:         b.BaseCents,
				PlatformFeeCents:  b.PlatformFeeCents,
				ProcessorFeeCents: b.ProcessorFeeCents,
				ServiceFeeCents:   b.ServiceFeeCents,
				TotalCents:        b.TotalCents,
			}})
		}).
		GET("/payments", func(ctx *gin.Context) {
			userId := ctx.GetUint("id")
			db := db.GetDb()
			var payments []models.Payment
			if err := db.
				Model(&models.Payment{}).
				Where(&models.Payment{UserID: userId}).
				Order("created_at desc").
				Limit(100).
				Find(&payments).
				Error; err != nil {
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": payments, "count": len(payments)})
		}).
		GET("/payments/:id", func(ctx *gin.Context) {
			paymentId, err := uuid.Parse(ctx.Params.ByName("id"))
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			db := db.GetDb()
			var payment models.Payment
			if err := db.
				Model(&models.Payment{}).
				Where("id = ? AND user_id = ?", paymentId, userId).
				First(&payment).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
					return
				}
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": payment})
		}).
		POST("/payments/:id/refund", func(ctx *gin.Context) {
			paymentId, err := uuid.Parse(ctx.Params.ByName("id"))
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			db := db.GetDb()
			var payment models.Payment
			if err := db.
				Model(&models.Payment{}).
				Where("id = ? AND user_id = ?", paymentId, userId).
				First(&payment).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
					return
				}
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			if err := utils.RefundPayment(context.Background(), payment.ID); err != nil {
				log.Printf("[Payments] Error refunding payment %s: %s\n", payment.ID, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			// Refund is accepted upstream; local status flips when the
			// charge.refunded event lands.
			ctx.JSON(http.StatusAccepted, gin.H{"data": gin.H{"payment_id": payment.ID, "status": payment.Status}})
		})
	return g
}
