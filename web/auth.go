package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"library-ledger/library"
)

// credentialsRequest accepts both form posts and JSON bodies.
type credentialsRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
	Role     string `form:"role" json:"role"`
}

func dashboardFor(role library.Role) string {
	if role == library.RoleAdmin {
		return "/admin.html"
	}
	return "/lender.html"
}

func (s *Server) setSessionCookie(c *gin.Context, sess library.Session) {
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, sess.Token, maxAge, "/", "", s.secure, true)
}

func (s *Server) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := library.ParseRole(req.Role)
	if err != nil {
		s.respondError(c, err)
		return
	}

	sess, err := s.mgr.Register(c.Request.Context(), req.Username, req.Password, role)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("user registered", "username", sess.Username, "role", sess.Role)
	s.setSessionCookie(c, sess)
	c.Redirect(http.StatusFound, dashboardFor(sess.Role))
}

func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.mgr.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.setSessionCookie(c, sess)
	c.Redirect(http.StatusFound, dashboardFor(sess.Role))
}

func (s *Server) logout(c *gin.Context) {
	if token, err := c.Cookie(sessionCookie); err == nil && token != "" {
		if err := s.mgr.Logout(c.Request.Context(), token); err != nil {
			s.respondError(c, err)
			return
		}
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", s.secure, true)
	c.Redirect(http.StatusFound, "/")
}
