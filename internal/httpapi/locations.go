package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bustrack/internal/location"
)

// POST /locations
func (s *Server) recordPing(c *gin.Context) {
	var in location.PingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid location body")
		return
	}
	ping, err := s.locations.RecordPing(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, ping)
}

// GET /update_location?route=R1&lat=16.5&lon=80.6 is the form used by the on-bus trackers.
func (s *Server) updateLocation(c *gin.Context) {
	in := location.PingInput{Identifier: c.Query("route")}
	for name, dst := range map[string]**float64{"lat": &in.Lat, "lon": &in.Lon} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, name+" must be a number")
			return
		}
		*dst = &v
	}
	ping, err := s.locations.RecordPing(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, ping)
}

// GET /locations/latest
func (s *Server) latestPerIdentifier(c *gin.Context) {
	pings, err := s.locations.LatestPerIdentifier(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, pings)
}

// GET /locations/:identifier/latest answers {} rather than 404 for an identifier with no pings.
func (s *Server) latestPing(c *gin.Context) {
	ping, err := s.locations.Latest(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if ping == nil {
		ok(c, gin.H{})
		return
	}
	ok(c, ping)
}

// GET /locations/:identifier/history?since=RFC3339&stopsOnly=true
func (s *Server) pingHistory(c *gin.Context) {
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "since must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}
	stopsOnly, _ := strconv.ParseBool(c.DefaultQuery("stopsOnly", "false"))
	pings, err := s.locations.History(c.Request.Context(), c.Param("identifier"), since, stopsOnly)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, pings)
}

// DELETE /locations/cleanup with an optional {"retain": n}. Without retain the configured
// ceiling applies.
func (s *Server) cleanup(c *gin.Context) {
	var body struct {
		Retain *int `json:"retain"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid cleanup body")
			return
		}
	}
	retain := s.locations.Ceiling()
	if body.Retain != nil {
		retain = *body.Retain
	}
	deleted, err := s.locations.Prune(c.Request.Context(), retain)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"deletedCount": deleted})
}
