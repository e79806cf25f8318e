package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Astemirdum/library-desk/library/internal/errs"
	"github.com/Astemirdum/library-desk/library/internal/model"
	md "github.com/Astemirdum/library-desk/pkg/middleware"
	"github.com/Astemirdum/library-desk/pkg/validate"
	_ "github.com/Astemirdum/library-desk/swagger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"
)

type Handler struct {
	librarySvc LibraryService
	log        *zap.Logger
}

func New(librarySvc LibraryService, log *zap.Logger) *Handler {
	return &Handler{
		librarySvc: librarySvc,
		log:        log.Named("handler"),
	}
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPost},
	}))
	e.JSONSerializer = jsonSerializer{}
	e.Renderer = newRenderer()
	e.Validator = validate.NewCustomValidator()

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)
	base.GET("/swagger/*", echoSwagger.WrapHandler)

	ui := e.Group("",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig(h.log)),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
	)
	ui.GET("/", h.Index)
	ui.GET("/search", h.SearchPage)
	ui.GET("/user", h.UserPage)
	ui.POST("/books", h.AddBookForm)
	ui.POST("/users", h.RegisterUserForm)
	ui.POST("/borrow", h.BorrowForm)
	ui.POST("/return", h.ReturnForm)
	ui.POST("/fines", h.PayFineForm)

	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig(h.log)),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
	)
	api.POST("/books", h.AddBook)
	api.GET("/books", h.ListBooks)
	api.GET("/books/popular", h.PopularBooks)
	api.GET("/books/:bookId", h.GetBook)

	api.POST("/users", h.RegisterUser)
	api.GET("/users", h.ListUsers)
	api.GET("/users/:userId", h.GetUser)
	api.GET("/users/:userId/loans", h.BorrowedBooks)
	api.POST("/users/:userId/fines/pay", h.PayFine)

	api.POST("/loans", h.Borrow)
	api.POST("/loans/return", h.Return)

	api.GET("/stats", h.GetStatistics)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// fail writes err as {"error": tag, "message": text}.
func (h *Handler) fail(c echo.Context, err error) error {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(c.Path(), zap.Error(err))
	}
	return c.JSON(status, errs.Response(err))
}

func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return errs.Validation(errors.New("malformed request"))
	}
	return nil
}

func parseID(name, value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Validation(errors.Errorf("%s is invalid", name))
	}
	return id, nil
}

func bindLoan(c echo.Context) (model.LoanRequest, error) {
	var req model.LoanRequest
	if err := bind(c, &req); err != nil {
		return req, err
	}
	if err := c.Validate(&req); err != nil {
		return req, errs.Validation(errors.New("userId and bookId are required"))
	}
	return req, nil
}

// AddBook
// @Summary Add a book to the catalog
// @Tags books
// @Accept json
// @Produce json
// @Param request body model.AddBookRequest true "book"
// @Success 201 {object} model.Book
// @Failure 400 {object} errs.ErrorResponse
// @Router /books [post]
func (h *Handler) AddBook(c echo.Context) error {
	var req model.AddBookRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	book, err := h.librarySvc.AddBook(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, book)
}

// ListBooks
// @Summary List the catalog, or search it by title or author
// @Tags books
// @Produce json
// @Param q query string false "search text"
// @Success 200 {array} model.Book
// @Router /books [get]
func (h *Handler) ListBooks(c echo.Context) error {
	ctx := c.Request().Context()
	query := c.QueryParam("q")
	if query == "" {
		books, err := h.librarySvc.ListBooks(ctx)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusOK, books)
	}

	books := make([]model.Book, 0)
	for book, err := range h.librarySvc.SearchBooks(ctx, query) {
		if err != nil {
			return h.fail(c, err)
		}
		books = append(books, book)
	}
	return c.JSON(http.StatusOK, books)
}

// PopularBooks
// @Summary Most borrowed books
// @Tags books
// @Produce json
// @Param limit query int false "how many, 5 by default"
// @Success 200 {array} model.Book
// @Router /books/popular [get]
func (h *Handler) PopularBooks(c echo.Context) error {
	var limit int
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		var err error
		if limit, err = strconv.Atoi(limitParam); err != nil || limit < 0 {
			return h.fail(c, errs.Validation(errors.New("limit is invalid")))
		}
	}
	books, err := h.librarySvc.PopularBooks(c.Request().Context(), limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, books)
}

// GetBook
// @Summary Get a book
// @Tags books
// @Produce json
// @Param bookId path int true "book id"
// @Success 200 {object} model.Book
// @Failure 404 {object} errs.ErrorResponse
// @Router /books/{bookId} [get]
func (h *Handler) GetBook(c echo.Context) error {
	bookID, err := parseID("bookId", c.Param("bookId"))
	if err != nil {
		return h.fail(c, err)
	}
	book, err := h.librarySvc.GetBook(c.Request().Context(), bookID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, book)
}

// RegisterUser
// @Summary Register a member
// @Tags users
// @Accept json
// @Produce json
// @Param request body model.RegisterUserRequest true "member"
// @Success 201 {object} model.User
// @Failure 400 {object} errs.ErrorResponse
// @Router /users [post]
func (h *Handler) RegisterUser(c echo.Context) error {
	var req model.RegisterUserRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	user, err := h.librarySvc.RegisterUser(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

// ListUsers
// @Summary List members
// @Tags users
// @Produce json
// @Success 200 {array} model.User
// @Router /users [get]
func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.librarySvc.ListUsers(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, users)
}

// GetUser
// @Summary Member details with borrowing allowance
// @Tags users
// @Produce json
// @Param userId path int true "user id"
// @Success 200 {object} model.UserDetails
// @Failure 404 {object} errs.ErrorResponse
// @Router /users/{userId} [get]
func (h *Handler) GetUser(c echo.Context) error {
	userID, err := parseID("userId", c.Param("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	details, err := h.librarySvc.GetUser(c.Request().Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, details)
}

// BorrowedBooks
// @Summary Books the member currently holds
// @Tags users
// @Produce json
// @Param userId path int true "user id"
// @Success 200 {array} model.BorrowedBook
// @Failure 404 {object} errs.ErrorResponse
// @Router /users/{userId}/loans [get]
func (h *Handler) BorrowedBooks(c echo.Context) error {
	userID, err := parseID("userId", c.Param("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	borrowed, err := h.librarySvc.BorrowedBooks(c.Request().Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, borrowed)
}

// PayFine
// @Summary Settle outstanding fines
// @Tags users
// @Accept json
// @Produce json
// @Param userId path int true "user id"
// @Param request body model.PayFineRequest true "payment"
// @Success 200 {object} model.User
// @Failure 400 {object} errs.ErrorResponse
// @Router /users/{userId}/fines/pay [post]
func (h *Handler) PayFine(c echo.Context) error {
	userID, err := parseID("userId", c.Param("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	var req model.PayFineRequest
	if err = bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	user, err := h.librarySvc.PayFine(c.Request().Context(), userID, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// Borrow
// @Summary Borrow a book
// @Tags loans
// @Accept json
// @Produce json
// @Param request body model.LoanRequest true "loan"
// @Success 201 {object} model.Loan
// @Failure 404 {object} errs.ErrorResponse
// @Failure 409 {object} errs.ErrorResponse
// @Router /loans [post]
func (h *Handler) Borrow(c echo.Context) error {
	req, err := bindLoan(c)
	if err != nil {
		return h.fail(c, err)
	}
	loan, err := h.librarySvc.Borrow(c.Request().Context(), req.UserID, req.BookID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, loan)
}

// Return
// @Summary Return a borrowed book
// @Tags loans
// @Accept json
// @Produce json
// @Param request body model.LoanRequest true "loan"
// @Success 200 {object} model.ReturnReceipt
// @Failure 404 {object} errs.ErrorResponse
// @Router /loans/return [post]
func (h *Handler) Return(c echo.Context) error {
	req, err := bindLoan(c)
	if err != nil {
		return h.fail(c, err)
	}
	receipt, err := h.librarySvc.Return(c.Request().Context(), req.UserID, req.BookID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// GetStatistics
// @Summary Library statistics
// @Tags stats
// @Produce json
// @Success 200 {object} model.Statistics
// @Router /stats [get]
func (h *Handler) GetStatistics(c echo.Context) error {
	stats, err := h.librarySvc.GetStatistics(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
