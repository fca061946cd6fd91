// Package httpapi exposes the location, attendance and directory services over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bustrack/internal/attendance"
	"bustrack/internal/auth"
	"bustrack/internal/entity"
	"bustrack/internal/httpmiddleware"
	"bustrack/internal/location"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router needs.
type Deps struct {
	Stores     *entity.Stores
	Locations  *location.Service
	Attendance *attendance.Service
	Auth       *auth.Service

	SigningKey  string
	Issuer      string
	Version     string
	CORSOrigins []string

	// Limiter is optional; without it requests are not rate limited.
	Limiter httpmiddleware.Limiter
	// Checks are run by /healthz, keyed by dependency name.
	Checks map[string]HealthCheck

	Log *zap.Logger
}

// Server holds the handlers.
type Server struct {
	stores     *entity.Stores
	locations  *location.Service
	attendance *attendance.Service
	auth       *auth.Service
	version    string
	checks     map[string]HealthCheck
	log        *zap.Logger
}

// NewRouter wires middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		stores:     d.Stores,
		locations:  d.Locations,
		attendance: d.Attendance,
		auth:       d.Auth,
		version:    d.Version,
		checks:     d.Checks,
		log:        log,
	}

	r := gin.New()
	r.Use(httpmiddleware.Recovery(log))
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.Metrics())
	r.Use(httpmiddleware.CORS(d.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NoCache())
	if d.Limiter != nil {
		r.Use(httpmiddleware.RateLimit(d.Limiter, log))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)
	r.GET("/version", func(c *gin.Context) { ok(c, gin.H{"version": s.version}) })

	bearer := auth.Bearer(d.SigningKey, d.Issuer)
	faculty := []gin.HandlerFunc{bearer, auth.RequireRole(entity.RoleFaculty)}
	withFaculty := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, faculty...), h)
	}

	r.POST("/locations", s.recordPing)
	r.GET("/update_location", s.updateLocation)
	r.GET("/locations/latest", s.latestPerIdentifier)
	r.GET("/locations/:identifier/latest", s.latestPing)
	r.GET("/locations/:identifier/history", s.pingHistory)
	r.DELETE("/locations/cleanup", withFaculty(s.cleanup)...)

	att := r.Group("/attendance", faculty...)
	att.POST("/scan", s.scan)
	att.GET("/:markingPartyId", s.listAttendance)
	att.GET("/:markingPartyId/today", s.countToday)

	r.POST("/students", withFaculty(s.createStudent)...)
	r.GET("/students", bearer, s.listStudents)
	r.GET("/students/:id", bearer, s.getStudent)
	r.DELETE("/students/:id", withFaculty(s.deactivateStudent)...)

	r.POST("/faculty", withFaculty(s.createFaculty)...)
	r.GET("/faculty", bearer, s.listFaculty)
	r.GET("/faculty/:id", bearer, s.getFaculty)

	r.POST("/routes", withFaculty(s.createRoute)...)
	r.GET("/routes", s.listRoutes)
	r.GET("/routes/:code", s.getRoute)
	r.GET("/routes/:code/stops", s.listStops)
	r.POST("/routes/:code/stops", withFaculty(s.addStop)...)
	r.PATCH("/routes/:code/stops/:stopId", withFaculty(s.setStopStatus)...)

	r.POST("/auth/register", s.register)
	r.POST("/auth/faculty-accounts", withFaculty(s.createFacultyAccount)...)
	r.POST("/auth/login", s.login)
	r.POST("/auth/refresh", s.refresh)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{Success: false, Error: "route not found"})
	})
	return r
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			result[name] = false
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = true
	}
	c.JSON(status, envelope{Success: status == http.StatusOK, Data: result})
}
