package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"bustrack/internal/apperr"
	"bustrack/internal/attendance"
	"bustrack/internal/auth"
)

// POST /attendance/scan. The marking party defaults to the caller and may not be anyone else.
func (s *Server) scan(c *gin.Context) {
	var in attendance.ScanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid scan body")
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	if in.MarkingPartyID == "" {
		in.MarkingPartyID = claims.FacultyID
	}
	if in.MarkingPartyID != claims.FacultyID {
		s.fail(c, apperr.Forbidden("attendance can only be marked as yourself"))
		return
	}
	entry, err := s.attendance.MarkByBarcode(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, entry)
}

// GET /attendance/:markingPartyId?limit=n
func (s *Server) listAttendance(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.attendance.ListForMarkingParty(c.Request.Context(), c.Param("markingPartyId"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, entries)
}

// GET /attendance/:markingPartyId/today
func (s *Server) countToday(c *gin.Context) {
	count, err := s.attendance.CountToday(c.Request.Context(), c.Param("markingPartyId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, count)
}
