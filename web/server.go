package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"library-ledger/library"
)

const (
	sessionCookie = "session"
	identityKey   = "identity"
	requestIDKey  = "request_id"
)

// Options tunes the HTTP layer.
type Options struct {
	StaticDir    string
	CookieSecure bool
	LoginRate    rate.Limit
	LoginBurst   int
	Logger       *slog.Logger
}

// Server maps HTTP requests onto the LibraryManager.
type Server struct {
	mgr       *library.LibraryManager
	logger    *slog.Logger
	staticDir string
	secure    bool
	limiter   *ipLimiter
}

func NewServer(mgr *library.LibraryManager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StaticDir == "" {
		opts.StaticDir = "static"
	}
	if opts.LoginRate <= 0 {
		opts.LoginRate = 5
	}
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = 10
	}
	return &Server{
		mgr:       mgr,
		logger:    opts.Logger,
		staticDir: opts.StaticDir,
		secure:    opts.CookieSecure,
		limiter:   newIPLimiter(opts.LoginRate, opts.LoginBurst),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.page("index.html"))
	r.POST("/register", s.rateLimit(), s.register)
	r.POST("/login", s.rateLimit(), s.login)
	r.GET("/logout", s.logout)
	r.POST("/logout", s.logout)

	r.GET("/admin.html", s.requirePage(library.AdminOnly), s.page("admin.html"))
	r.GET("/lender.html", s.requirePage(library.LenderOnly), s.page("lender.html"))

	admin := r.Group("/admin/api", s.requireAPI(library.AdminOnly))
	{
		admin.GET("/users", s.adminUsers)
		admin.GET("/books", s.adminBooks)
		admin.GET("/loans", s.adminLoans)
		admin.GET("/overdue", s.adminOverdue)
		admin.POST("/books", s.adminAddBook)
		admin.PUT("/books", s.adminUpdateBook)
		admin.DELETE("/books", s.adminDeleteBook)
		admin.POST("/return", s.returnLoan)
	}

	lender := r.Group("/lender/api", s.requireAPI(library.LenderOnly))
	{
		lender.GET("/books", s.lenderBooks)
		lender.GET("/search", s.lenderSearch)
		lender.GET("/myloans", s.lenderLoans)
		lender.GET("/overdue", s.lenderOverdue)
		lender.POST("/checkout", s.lenderCheckout)
		lender.POST("/return", s.returnLoan)
	}

	return r
}

func (s *Server) page(name string) gin.HandlerFunc {
	path := filepath.Join(s.staticDir, name)
	return func(c *gin.Context) { c.File(path) }
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
