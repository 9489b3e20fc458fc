package main

import (
	"context"
	"errors"
	"etix/src/db"
	"etix/src/models"
	"etix/src/types"
	"etix/src/utils"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func ticketHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/tickets", func(ctx *gin.Context) {
			userId := ctx.GetUint("id")
			db := db.GetDb()
			var tickets []models.Ticket
			if err := db.
				Model(&models.Ticket{}).
				Where("owner_id = ?", userId).
				Preload("Event").
				Order("created_at desc").
				Limit(100).
				Find(&tickets).
				Error; err != nil {
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": tickets, "count": len(tickets)})
		}).
		POST("/claim-favor-offer", func(ctx *gin.Context) {
			var body types.ClaimFavorOfferRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			email := ctx.GetString("email")
			ticket, err := claimFreeOffer(&body, userId, email)
			if err != nil {
				log.Printf("[Offers] Error claiming offer %s: %s\n", body.OfferID, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": ticket})
		}).
		POST("/claim-ticket-transfer", func(ctx *gin.Context) {
			var body types.ClaimTicketTransferRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			email := ctx.GetString("email")
			ticket, err := utils.ClaimTicketTransfer(body.TransferToken, userId, email)
			if err != nil {
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": ticket})
		}).
		POST("/resale-listings", func(ctx *gin.Context) {
			var body types.CreateResaleListingRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			listing, err := createResaleListing(&body, userId)
			if err != nil {
				log.Printf("[Listings] Error listing ticket %d: %s\n", body.TicketID, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": listing})
		}).
		PUT("/resale-listings/:id/cancel", func(ctx *gin.Context) {
			listingId, err := uuid.Parse(ctx.Params.ByName("id"))
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			db := db.GetDb()
			res := db.
				Model(&models.ResaleListing{}).
				Where("id = ? AND seller_id = ? AND status = ?", listingId, userId, types.LISTING_ACTIVE).
				Update("status", types.LISTING_CANCELLED)
			if res.Error != nil {
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": res.Error.Error()})
				return
			}
			if res.RowsAffected == 0 {
				ctx.JSON(http.StatusConflict, gin.H{"error": "listing is not active or not yours"})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": gin.H{"id": listingId, "status": types.LISTING_CANCELLED}})
		}).
		POST("/admission", func(ctx *gin.Context) {
			var body types.CreateAdmissionRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			ticket, err := admitTicket(body.TicketNumber, userId)
			if err != nil {
				log.Printf("[Admission] Error admitting ticket %s: %s\n", body.TicketNumber, err.Error())
				ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": ticket})
		})
	return g
}

// claimFreeOffer accepts a zero-price offer and mints its ticket. Paid
// offers never pass through here. A free public offer claimed with the
// minting fee skipped is issued private instead.
func claimFreeOffer(body *types.ClaimFavorOfferRequestBody, userId uint, email string) (*models.Ticket, error) {
	offerId, err := uuid.Parse(body.OfferID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrValidation, err.Error())
	}
	var ticket models.Ticket
	gdb := db.GetDb()
	err = gdb.Transaction(func(tx *gorm.DB) error {
		var offer models.TicketOffer
		err := tx.
			Model(&models.TicketOffer{}).
			Where("id = ?", offerId).
			First(&offer).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrNotFound
			}
			return err
		}
		if offer.Status != types.OFFER_PENDING {
			return types.ErrConflict
		}
		if offer.ExpiresAt != nil && time.Now().After(*offer.ExpiresAt) {
			return types.ErrGone
		}
		if offer.PriceCents != 0 {
			return fmt.Errorf("%w: paid offers are accepted through create-payment-intent", types.ErrValidation)
		}
		mode := offer.Mode
		if mode == types.TICKET_MODE_PUBLIC && body.SkipMintingFee {
			mode = types.TICKET_MODE_PRIVATE
		}
		res := tx.
			Model(&models.TicketOffer{}).
			Where("id = ? AND status = ?", offer.ID, types.OFFER_PENDING).
			Updates(map[string]any{
				"status":       types.OFFER_ACCEPTED,
				"recipient_id": userId,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.ErrConflict
		}
		number, err := utils.NewTicketNumber(offer.EventID)
		if err != nil {
			return err
		}
		ticket = models.Ticket{
			EventID:      offer.EventID,
			TicketNumber: number,
			OwnerEmail:   email,
			OwnerID:      &userId,
			PriceCents:   0,
			Status:       types.TICKET_VALID,
			Mode:         mode,
			OfferID:      &offer.ID,
		}
		return tx.Create(&ticket).Error
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// createResaleListing lists a ticket for resale. Private tickets and
// tickets in any non-valid state cannot be listed, and one ticket carries
// at most one open listing.
func createResaleListing(body *types.CreateResaleListingRequestBody, userId uint) (*models.ResaleListing, error) {
	gdb := db.GetDb()
	var listing models.ResaleListing
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var ticket models.Ticket
		err := tx.
			Model(&models.Ticket{}).
			Where(&models.Ticket{ID: body.TicketID}).
			First(&ticket).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrNotFound
			}
			return err
		}
		if ticket.OwnerID == nil || *ticket.OwnerID != userId {
			return types.ErrForbidden
		}
		if ticket.Status != types.TICKET_VALID {
			return fmt.Errorf("%w: only valid tickets can be listed", types.ErrConflict)
		}
		if ticket.Mode == types.TICKET_MODE_PRIVATE {
			return fmt.Errorf("%w: private tickets cannot be resold", types.ErrConflict)
		}
		var open int64
		if err := tx.
			Model(&models.ResaleListing{}).
			Where("ticket_id = ? AND status = ?", ticket.ID, types.LISTING_ACTIVE).
			Count(&open).
			Error; err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: ticket is already listed", types.ErrConflict)
		}
		listing = models.ResaleListing{
			TicketID:         ticket.ID,
			SellerID:         userId,
			AskingPriceCents: body.AskingPriceCents,
			Status:           types.LISTING_ACTIVE,
		}
		return tx.Create(&listing).Error
	})
	if err != nil {
		return nil, err
	}

	// Lazy connect onboarding. Failure here is not fatal; the purchase path
	// rejects listings whose seller never became payable.
	go func() {
		var seller models.User
		if err := gdb.Where(&models.User{ID: userId}).First(&seller).Error; err != nil {
			return
		}
		if _, err := utils.EnsureSellerAccount(context.Background(), &seller); err != nil {
			log.Printf("[Connect] Error ensuring seller account for user %d: %s\n", userId, err.Error())
		}
	}()
	return &listing, nil
}

// admitTicket checks a ticket in at the door. Staff only; valid tickets
// transition to used exactly once.
func admitTicket(ticketNumber string, staffUserId uint) (*models.Ticket, error) {
	gdb := db.GetDb()
	var ticket models.Ticket
	err := gdb.Transaction(func(tx *gorm.DB) error {
		err := tx.
			Model(&models.Ticket{}).
			Where(&models.Ticket{TicketNumber: ticketNumber}).
			Preload("Event").
			First(&ticket).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrNotFound
			}
			return err
		}
		if !utils.IsEventStaff(&ticket.Event, staffUserId) {
			return types.ErrForbidden
		}
		res := tx.
			Model(&models.Ticket{}).
			Where("id = ? AND status = ?", ticket.ID, types.TICKET_VALID).
			Update("status", types.TICKET_USED)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: ticket is %s", types.ErrConflict, ticket.Status)
		}
		ticket.Status = types.TICKET_USED
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}
