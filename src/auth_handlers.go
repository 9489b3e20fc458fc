package main

import (
	"context"
	"errors"
	"etix/src/db"
	"etix/src/lib"
	"etix/src/middlewares"
	"etix/src/models"
	"etix/src/utils"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// guestAuthRoutes is the mobile login path: a verified firebase ID token is
// exchanged for the service's own bearer JWT. Users are created on first
// login.
func guestAuthRoutes(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	auth := apiv1.Group("/auth")
	auth.Use(middlewares.VerifyIdToken)
	auth.
		POST("/login", func(ctx *gin.Context) {
			uid := ctx.GetString("uid")
			fauth, err := lib.GetFirebaseAuth()
			if err != nil {
				log.Printf("Error retrieving Firebase Auth instance: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			record, err := fauth.GetUser(context.Background(), uid)
			if err != nil {
				log.Printf("error from Firebase: %s\n", err.Error())
				ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}

			gdb := db.GetDb()
			var user models.User
			err = gdb.
				Model(&models.User{}).
				Where(&models.User{Email: record.Email}).
				First(&user).
				Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				user = models.User{
					Name:          record.DisplayName,
					Email:         record.Email,
					UID:           uid,
					EmailVerified: record.EmailVerified,
				}
				err = gdb.Create(&user).Error
			}
			if err != nil {
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			if user.UID == "" {
				if err := gdb.
					Model(&models.User{}).
					Where("id = ?", user.ID).
					Update("uid", uid).
					Error; err != nil {
					log.Printf("Error linking firebase uid for user %d: %s\n", user.ID, err.Error())
				}
			}

			token, err := utils.GenerateJWT(user.Email, user.ID, user.Role)
			if err != nil {
				log.Printf("Error generating JWT token: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"token": token})
		})
	return apiv1
}
