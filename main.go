package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"library-ledger/config"
	"library-ledger/library"
	"library-ledger/web"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "library",
	Short: "Library loan ledger",
	Long: `library runs the lending server and its maintenance tasks.

Configuration comes from the environment or a .env file in the working directory
(DATABASE_PATH, HTTP_HOST, HTTP_PORT, SESSION_TTL, LOG_LEVEL, ...).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.LoadConfig(); err != nil {
			return err
		}
		if err = cfg.Validate(); err != nil {
			return err
		}
		logger = cfg.NewLogger()
		slog.SetDefault(logger)
		return nil
	},
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

func openManager() (*library.LibraryManager, error) {
	return library.OpenLibraryManager(cfg.DatabasePath,
		[]library.Option{
			library.WithLogger(logger),
			library.WithLoanPeriod(cfg.LoanPeriod()),
			library.WithBusyTimeout(cfg.BusyTimeout),
			library.WithSyncBeforeRead(cfg.SyncBeforeRead),
			library.WithRetry(cfg.StoreMaxAttempts, cfg.StoreRetryBaseDelay),
		},
		library.WithVerifier(library.BcryptVerifier{Cost: cfg.BcryptCost}),
		library.WithSessionTTL(cfg.SessionTTL),
	)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer mgr.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := web.NewServer(mgr, web.Options{
			StaticDir:    cfg.StaticDir,
			CookieSecure: cfg.CookieSecure,
			LoginRate:    rate.Limit(cfg.LoginRateLimit),
			LoginBurst:   cfg.LoginRateBurst,
			Logger:       logger,
		})
		return srv.Run(ctx, cfg.Addr())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Repair availability counts and purge expired sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer mgr.Close()

		corrected, purged, err := mgr.Maintain(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Corrected availability on %d book(s); purged %d expired session(s).\n", corrected, purged)
		return nil
	},
}

var userAddCmd = &cobra.Command{
	Use:   "useradd <username>",
	Short: "Create an account (password is prompted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roleFlag, _ := cmd.Flags().GetString("role")
		role, err := library.ParseRole(roleFlag)
		if err != nil {
			return err
		}

		password, err := readPassword(fmt.Sprintf("Enter password for %s: ", args[0]))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		confirm, err := readPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}

		mgr, err := openManager()
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer mgr.Close()

		u, err := mgr.CreateUser(cmd.Context(), args[0], password, role)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s %q with ID %d\n", u.Role, u.Username, u.ID)
		return nil
	},
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Inspect and stock the catalog",
}

var booksListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List books, optionally filtered by a search string",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager()
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer mgr.Close()

		var books []library.Book
		if len(args) == 1 {
			books, err = mgr.SearchBooks(cmd.Context(), args[0])
		} else {
			views, verr := mgr.AdminBooks(cmd.Context())
			err = verr
			for _, v := range views {
				books = append(books, v.Book)
			}
		}
		if err != nil {
			return err
		}
		if len(books) == 0 {
			fmt.Println("No books found.")
			return nil
		}
		fmt.Printf("%-5s %-30s %-25s %-15s %s\n", "ID", "Title", "Author", "ISBN", "Status")
		fmt.Println(strings.Repeat("-", 100))
		for _, b := range books {
			fmt.Println(library.PrettyBook(b))
		}
		return nil
	},
}

var booksAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a book or re-stock an existing ISBN",
	RunE: func(cmd *cobra.Command, args []string) error {
		var in library.BookInput
		in.Title, _ = cmd.Flags().GetString("title")
		in.Author, _ = cmd.Flags().GetString("author")
		in.ISBN, _ = cmd.Flags().GetString("isbn")
		in.Copies, _ = cmd.Flags().GetInt64("copies")
		if cmd.Flags().Changed("year") {
			year, _ := cmd.Flags().GetInt64("year")
			in.Year = &year
		}
		if cmd.Flags().Changed("genre") {
			genre, _ := cmd.Flags().GetString("genre")
			in.Genre = &genre
		}

		mgr, err := openManager()
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer mgr.Close()

		id, created, err := mgr.AddBook(cmd.Context(), in)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Book added with ID %d\n", id)
		} else {
			fmt.Printf("Book %d exists - copies increased by %d\n", id, in.Copies)
		}
		return nil
	},
}

func init() {
	userAddCmd.Flags().String("role", string(library.RoleLender), "account role: admin or lender")

	booksAddCmd.Flags().String("title", "", "book title")
	booksAddCmd.Flags().String("author", "", "book author")
	booksAddCmd.Flags().String("isbn", "", "ISBN, unique per title")
	booksAddCmd.Flags().Int64("year", 0, "year of publication")
	booksAddCmd.Flags().String("genre", "", "genre")
	booksAddCmd.Flags().Int64("copies", 1, "number of copies to stock")

	booksCmd.AddCommand(booksListCmd, booksAddCmd)
	rootCmd.AddCommand(serveCmd, syncCmd, userAddCmd, booksCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
