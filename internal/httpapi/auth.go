package httpapi

import (
	"github.com/gin-gonic/gin"

	"bustrack/internal/auth"
)

func (s *Server) register(c *gin.Context) {
	var in auth.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid registration body")
		return
	}
	acc, err := s.auth.Register(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, acc)
}

// POST /auth/faculty-accounts creates a login for an existing faculty record. Faculty only.
func (s *Server) createFacultyAccount(c *gin.Context) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid account body")
		return
	}
	acc, err := s.auth.CreateFacultyAccount(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, acc)
}

func (s *Server) login(c *gin.Context) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid login body")
		return
	}
	sess, err := s.auth.Login(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, sess)
}

func (s *Server) refresh(c *gin.Context) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.RefreshToken == "" {
		badRequest(c, "refreshToken is required")
		return
	}
	sess, err := s.auth.Refresh(c.Request.Context(), in.RefreshToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, sess)
}
