package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"etix/src/db"
	"etix/src/models"
	"etix/src/types"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
)

// NewTransferToken mints the random token handed to an NFC tap. 32 bytes of
// entropy, hex encoded.
func NewTransferToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewTicketNumber generates a human-readable globally unique ticket number.
// The unique column constraint is the final arbiter.
func NewTicketNumber(eventId uint) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("ETX-%d-%s", eventId, strings.ToUpper(hex.EncodeToString(buf))), nil
}

// ClaimTicketTransfer redeems a transfer token. Tokens are single use: the
// claim clears the token in the same guarded update that reassigns the
// owner, so a second claim loses the race and conflicts.
func ClaimTicketTransfer(token string, userId uint, email string) (*models.Ticket, error) {
	var ticket models.Ticket
	gdb := db.GetDb()
	err := gdb.Transaction(func(tx *gorm.DB) error {
		err := tx.
			Model(&models.Ticket{}).
			Where("transfer_token = ?", token).
			First(&ticket).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Cleared on a previous claim, or never issued.
				return types.ErrConflict
			}
			return err
		}
		if ticket.TransferTokenExpiresAt == nil || time.Now().After(*ticket.TransferTokenExpiresAt) {
			return types.ErrGone
		}
		res := tx.
			Model(&models.Ticket{}).
			Where("id = ? AND transfer_token = ?", ticket.ID, token).
			Updates(map[string]any{
				"owner_id":                  userId,
				"owner_email":               email,
				"transfer_token":            nil,
				"transfer_token_expires_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.ErrConflict
		}
		return nil
	})
	if err != nil {
		log.Printf("Error claiming transfer token: %s\n", err.Error())
		return nil, err
	}
	ticket.OwnerID = &userId
	ticket.OwnerEmail = email
	ticket.TransferToken = nil
	ticket.TransferTokenExpiresAt = nil
	return &ticket, nil
}
