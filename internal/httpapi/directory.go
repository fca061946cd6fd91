package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"bustrack/internal/entity"
)

func (s *Server) createStudent(c *gin.Context) {
	var in struct {
		Name       string `json:"name"`
		RegNo      string `json:"regNo"`
		Barcode    string `json:"barcode"`
		Department string `json:"department"`
		Batch      string `json:"batch"`
		RouteID    string `json:"routeId"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid student body")
		return
	}
	st := entity.Student{
		Name: in.Name, RegNo: in.RegNo, Barcode: in.Barcode,
		Department: in.Department, Batch: in.Batch, RouteID: in.RouteID,
	}
	if err := s.stores.Students.Create(c.Request.Context(), &st); err != nil {
		s.fail(c, err)
		return
	}
	created(c, st)
}

// GET /students?all=true includes deactivated students.
func (s *Server) listStudents(c *gin.Context) {
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	list, err := s.stores.Students.List(c.Request.Context(), all)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) getStudent(c *gin.Context) {
	st, err := s.stores.Students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, st)
}

// DELETE /students/:id deactivates; students are never removed.
func (s *Server) deactivateStudent(c *gin.Context) {
	st, err := s.stores.Students.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, st)
}

func (s *Server) createFaculty(c *gin.Context) {
	var in struct {
		Name       string `json:"name"`
		EmployeeID string `json:"employeeId"`
		Barcode    string `json:"barcode"`
		Email      string `json:"email"`
		RouteID    string `json:"routeId"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid faculty body")
		return
	}
	f := entity.Faculty{Name: in.Name, EmployeeID: in.EmployeeID, Barcode: in.Barcode, Email: in.Email, RouteID: in.RouteID}
	if err := s.stores.Faculty.Create(c.Request.Context(), &f); err != nil {
		s.fail(c, err)
		return
	}
	created(c, f)
}

func (s *Server) listFaculty(c *gin.Context) {
	list, err := s.stores.Faculty.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) getFaculty(c *gin.Context) {
	f, err := s.stores.Faculty.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, f)
}

func (s *Server) createRoute(c *gin.Context) {
	var in struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid route body")
		return
	}
	r := entity.Route{Name: in.Name, Code: in.Code}
	if err := s.stores.Routes.Create(c.Request.Context(), &r); err != nil {
		s.fail(c, err)
		return
	}
	created(c, r)
}

func (s *Server) listRoutes(c *gin.Context) {
	list, err := s.stores.Routes.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) getRoute(c *gin.Context) {
	r, err := s.stores.Routes.ByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, r)
}

func (s *Server) listStops(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.stores.Routes.ByCode(ctx, c.Param("code")); err != nil {
		s.fail(c, err)
		return
	}
	stops, err := s.stores.Routes.Stops(ctx, c.Param("code"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, stops)
}

func (s *Server) addStop(c *gin.Context) {
	var in struct {
		StopName      string  `json:"stopName"`
		Lat           float64 `json:"lat"`
		Lon           float64 `json:"lon"`
		ScheduledTime string  `json:"scheduledTime"`
		Status        string  `json:"status"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid stop body")
		return
	}
	stop := entity.RouteStop{StopName: in.StopName, Lat: in.Lat, Lon: in.Lon, ScheduledTime: in.ScheduledTime, Status: in.Status}
	if err := s.stores.Routes.AddStop(c.Request.Context(), c.Param("code"), &stop); err != nil {
		s.fail(c, err)
		return
	}
	created(c, stop)
}

// PATCH /routes/:code/stops/:stopId with {"status": "..."}
func (s *Server) setStopStatus(c *gin.Context) {
	var in struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid stop status body")
		return
	}
	stop, err := s.stores.Routes.SetStopStatus(c.Request.Context(), c.Param("code"), c.Param("stopId"), in.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, stop)
}
