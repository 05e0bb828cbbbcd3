package controllers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/courses"
	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/middleware"
	"github.com/princinho/racebackend/proof"
	"github.com/princinho/racebackend/results"
	"github.com/princinho/racebackend/users"
	"github.com/princinho/racebackend/utils"
)

type Deps struct {
	Store     *database.Store
	Authority *auth.Authority
	Users     *users.Service
	Courses   *courses.Service
	Results   *results.Service
	Proofs    *proof.Validator
	Files     *utils.FileValidator

	AllowedOrigins     []string
	LoginRatePerMinute int
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()

	allowedOrigins := map[string]bool{}
	for _, origin := range d.AllowedOrigins {
		allowedOrigins[origin] = true
	}
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return allowedOrigins[origin]
		},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", middleware.AccessTokenHeader, middleware.RefreshTokenHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(gin.Recovery())

	r.GET("/ping", Ping())
	r.GET("/healthz", Healthz(d.Store))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(d.LoginRatePerMinute).Middleware()
	r.POST("/register", limiter, Register(d.Authority))
	r.POST("/login", limiter, Login(d.Authority))
	r.POST("/refresh", Refresh(d.Authority))
	r.POST("/logout", Logout(d.Authority))

	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware(d.Authority))
	{
		authed.GET("/users", GetUser(d.Users))
		authed.PATCH("/users", UpdateUser(d.Users))
		authed.DELETE("/users", DeleteUser(d.Users))

		authed.POST("/courses", CreateCourse(d.Courses))
		authed.GET("/courses", GetCourses(d.Courses))
		authed.PATCH("/courses", UpdateCourse(d.Courses))
		authed.DELETE("/courses", DeleteCourse(d.Courses))

		authed.POST("/times", SubmitTime(d.Proofs, d.Files))
		authed.GET("/times", ListTimes(d.Results))
		authed.GET("/times/uploaded", UploadedTimes(d.Results))
		authed.DELETE("/times", DeleteTimes(d.Results))
	}
	return r
}
