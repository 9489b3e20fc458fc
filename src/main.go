package main

import (
	"context"
	"errors"
	"etix/src/common"
	"etix/src/db"
	"etix/src/lib"
	"etix/src/middlewares"
	"etix/src/models"
	"log"
	"net/http"
	"os"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var apiPrefix = "/api/v1"

// currencycode accepts the lowercase ISO-4217 spelling the payment provider
// uses on the wire.
var currencyCodeValidatorFunc validator.Func = func(fl validator.FieldLevel) bool {
	code, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	match, _ := regexp.MatchString(`^[a-z]{3}$`, code)
	return match
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("currencycode", currencyCodeValidatorFunc)
	}
}

func setupRouter() *gin.Engine {
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	return router
}

func maintenanceModeMiddleware(g *gin.Engine) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		mm := os.Getenv("MAINTENANCE_MODE")
		atoi, err := strconv.ParseBool(mm)
		if err == nil && atoi {
			err := errors.New("server is under maintenance")
			log.Println(err.Error())
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, err.Error())
			return
		}
	})
	return g
}

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	apiv1 := g.Group(apiPrefix)
	return apiv1
}

func migrateModels() {
	gdb := db.GetDb()
	if err := gdb.AutoMigrate(
		&models.User{},
		&models.Event{},
		&models.EventStaff{},
		&models.Payment{},
		&models.Ticket{},
		&models.ResaleListing{},
		&models.TicketOffer{},
		&models.Subscription{},
		&models.WebhookEvent{},
	); err != nil {
		log.Fatalf("Error migrating models: %s\n", err.Error())
	}
}

func startSweeps() {
	if _, err := lib.CreateCronJob(common.RetryUnprocessedWebhooks, time.Minute); err != nil {
		log.Printf("Error scheduling webhook retry sweep: %s\n", err.Error())
	}
	if _, err := lib.CreateCronJob(common.ExpireOverdueOffers, 5*time.Minute); err != nil {
		log.Printf("Error scheduling offer expiry sweep: %s\n", err.Error())
	}
	sched, err := lib.GetScheduler()
	if err != nil {
		return
	}
	sched.Start()
}

func main() {
	apiEnv := os.Getenv("API_ENV")
	if apiEnv == "local" {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil {
			panic(err)
		}
	}

	migrateModels()
	startSweeps()

	if err := lib.PingRedis(context.Background()); err != nil {
		log.Printf("[redis] cache unavailable, falling back to source reads: %s\n", err.Error())
	}

	router := setupRouter()

	appHost := os.Getenv("APP_HOST")
	if apiEnv == "local" {
		router.Use(cors.Default())
	} else {
		cc := cors.DefaultConfig()
		cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "PUT", "DELETE", "HEAD")
		cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization")
		cc.AllowOriginFunc = func(origin string) bool {
			match, _ := regexp.MatchString(appHost, origin)
			if match {
				return true
			}
			match, _ = regexp.MatchString("app:mobile", origin)
			return match
		}
		cc.AllowCredentials = true
		cc.AllowAllOrigins = false
		router.Use(cors.New(cc))
	}

	registerValidators()

	router = maintenanceModeMiddleware(router)

	guestAuthRoutes(router)

	stripeWebhookRoute(router)

	authorized := router.Group(apiPrefix)
	authorized.Use(middlewares.AuthMiddleware)
	{
		paymentHandlers(authorized)
		connectHandlers(authorized)
		cashSaleHandlers(authorized)
		ticketHandlers(authorized)
		subscriptionHandlers(authorized)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Error starting server: %s\n", err.Error())
	}
}
