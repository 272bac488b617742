package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-ledger/library"
)

// queryID reads a positive integer query parameter or answers 400.
func (s *Server) queryID(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s %q", name, raw)})
		return 0, false
	}
	return id, true
}

// bookRequest is the admin book body. Copies is a pointer so a body that omits
// it is rejected instead of binding to zero.
type bookRequest struct {
	Title  string  `json:"title"`
	Author string  `json:"author"`
	ISBN   string  `json:"isbn"`
	Year   *int64  `json:"year_of_pub"`
	Genre  *string `json:"genre"`
	Copies *int64  `json:"copies"`
}

// bindBook decodes the JSON body or answers 400.
func bindBook(c *gin.Context) (library.BookInput, bool) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return library.BookInput{}, false
	}
	if req.Copies == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "copies is required"})
		return library.BookInput{}, false
	}
	return library.BookInput{
		Title:  req.Title,
		Author: req.Author,
		ISBN:   req.ISBN,
		Year:   req.Year,
		Genre:  req.Genre,
		Copies: *req.Copies,
	}, true
}

func (s *Server) adminUsers(c *gin.Context) {
	users, err := s.mgr.ListUsers(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) adminBooks(c *gin.Context) {
	books, err := s.mgr.AdminBooks(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (s *Server) adminLoans(c *gin.Context) {
	loans, err := s.mgr.AdminLoans(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (s *Server) adminOverdue(c *gin.Context) {
	loans, err := s.mgr.OverdueLoans(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (s *Server) adminAddBook(c *gin.Context) {
	in, ok := bindBook(c)
	if !ok {
		return
	}

	id, created, err := s.mgr.AddBook(c.Request.Context(), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"success": true, "bookid": id, "message": "Book exists - copies increased"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "bookid": id, "message": "Book added successfully"})
}

func (s *Server) adminUpdateBook(c *gin.Context) {
	id, ok := s.queryID(c, "bookid")
	if !ok {
		return
	}
	in, ok := bindBook(c)
	if !ok {
		return
	}

	if err := s.mgr.UpdateBook(c.Request.Context(), id, in); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Book updated successfully"})
}

func (s *Server) adminDeleteBook(c *gin.Context) {
	id, ok := s.queryID(c, "bookid")
	if !ok {
		return
	}
	if err := s.mgr.DeleteBook(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Book and related loan history deleted"})
}
