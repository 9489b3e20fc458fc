package main

import (
	"etix/src/common"
	"etix/src/lib"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82/webhook"
)

func stripeWebhookRoute(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/stripe", func(ctx *gin.Context) {
		payload, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			log.Printf("Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		event, err := webhook.ConstructEvent(payload, ctx.GetHeader("Stripe-Signature"), lib.StripeWebhookSecret())
		if err != nil {
			log.Printf("Error verifying webhook signature: %s\n", err.Error())
			ctx.Status(http.StatusBadRequest)
			return
		}
		log.Printf("[StripeEvent] %s\n", event.Type)

		row, fresh, err := common.RecordWebhookEvent("stripe", event.ID, string(event.Type), string(payload))
		if err != nil {
			log.Printf("[Webhook] Error recording event %s: %s\n", event.ID, err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}
		if !fresh && row.ProcessedAt != nil {
			// Replay of an event we already finished. Acknowledge and move on.
			ctx.Status(http.StatusOK)
			return
		}

		if err := common.DispatchStripeEvent(string(event.Type), event.Data.Raw); err != nil {
			log.Printf("[Webhook] Error handling %s event %s: %s\n", event.Type, event.ID, err.Error())
			common.MarkWebhookProcessed(row.ID, err)
			// Non-2xx so the provider redelivers; the sweep is the backstop.
			ctx.Status(http.StatusInternalServerError)
			return
		}
		common.MarkWebhookProcessed(row.ID, nil)
		ctx.Status(http.StatusOK)
	})
	return apiv1
}
