package main

import (
	"context"
	"etix/src/types"
	"etix/src/utils"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func cashSaleHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/process-cash-sale", func(ctx *gin.Context) {
			var body types.ProcessCashSaleRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			result, err := utils.ProcessCashSale(context.Background(), &body, userId)
			if err != nil {
				log.Printf("[CashSale] Error processing sale for event %d: %s\n", body.EventID, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			out := gin.H{
				"ticket_id":     result.TicketID,
				"ticket_number": result.TicketNumber,
				"payment_id":    result.PaymentID,
				"fee_charged":   result.FeeCharged,
			}
			if !result.FeeCharged {
				out["warning"] = "platform fee was not collected"
			}
			if result.TransferToken != "" {
				out["transfer_token"] = result.TransferToken
				out["token_expires_at"] = result.TokenExpires
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": out})
		})
	return g
}
