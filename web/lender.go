package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) lenderBooks(c *gin.Context) {
	books, err := s.mgr.LenderBooks(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (s *Server) lenderSearch(c *gin.Context) {
	books, err := s.mgr.LenderSearch(c.Request.Context(), c.Query("q"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (s *Server) lenderLoans(c *gin.Context) {
	loans, err := s.mgr.LenderLoans(c.Request.Context(), identityFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (s *Server) lenderOverdue(c *gin.Context) {
	loans, err := s.mgr.LenderOverdue(c.Request.Context(), identityFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (s *Server) lenderCheckout(c *gin.Context) {
	bookID, ok := s.queryID(c, "bookid")
	if !ok {
		return
	}
	loanID, err := s.mgr.Checkout(c.Request.Context(), identityFrom(c), bookID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "loanid": loanID, "message": "Book checked out successfully"})
}

// returnLoan serves both roles. Admins may close any loan; lenders only their own.
func (s *Server) returnLoan(c *gin.Context) {
	loanID, ok := s.queryID(c, "loanid")
	if !ok {
		return
	}
	if err := s.mgr.Return(c.Request.Context(), identityFrom(c), loanID); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Book returned successfully"})
}
