package handler

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/Astemirdum/library-desk/library/internal/errs"
	"github.com/Astemirdum/library-desk/library/internal/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:embed templates/*.html
var templateFS embed.FS

const indexTemplate = "index.html"

type renderer struct {
	templates *template.Template
}

func newRenderer() *renderer {
	funcs := template.FuncMap{
		"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
		"date":  func(t time.Time) string { return t.Format(time.DateOnly) },
	}
	return &renderer{
		templates: template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")),
	}
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

// page is everything the index template shows. Flash and Error carry the
// outcome of the last submitted form.
type page struct {
	Flash string
	Error string

	Query    string
	Searched bool
	Results  []model.Book

	Details  *model.UserDetails
	Borrowed []model.BorrowedBook

	Books []model.Book
	Users []model.User
	Stats model.Statistics
}

func (h *Handler) render(c echo.Context, status int, p page) error {
	ctx := c.Request().Context()
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		p.Books, err = h.librarySvc.ListBooks(gCtx)
		return err
	})
	g.Go(func() (err error) {
		p.Users, err = h.librarySvc.ListUsers(gCtx)
		return err
	})
	g.Go(func() (err error) {
		p.Stats, err = h.librarySvc.GetStatistics(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		h.log.Error("render", zap.Error(err))
		p.Error = err.Error()
		status = errs.HTTPStatus(err)
	}
	return c.Render(status, indexTemplate, p)
}

// done renders the outcome of a form: flash on success, a short message otherwise.
func (h *Handler) done(c echo.Context, flash string, err error) error {
	if err != nil {
		return h.render(c, errs.HTTPStatus(err), page{Error: err.Error()})
	}
	return h.render(c, http.StatusOK, page{Flash: flash})
}

func (h *Handler) Index(c echo.Context) error {
	return h.render(c, http.StatusOK, page{})
}

func (h *Handler) SearchPage(c echo.Context) error {
	p := page{Query: c.QueryParam("q"), Searched: true}
	for book, err := range h.librarySvc.SearchBooks(c.Request().Context(), p.Query) {
		if err != nil {
			return h.done(c, "", err)
		}
		p.Results = append(p.Results, book)
	}
	return h.render(c, http.StatusOK, p)
}

func (h *Handler) UserPage(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := parseID("userId", c.QueryParam("userId"))
	if err != nil {
		return h.done(c, "", err)
	}
	details, err := h.librarySvc.GetUser(ctx, userID)
	if err != nil {
		return h.done(c, "", err)
	}
	borrowed, err := h.librarySvc.BorrowedBooks(ctx, userID)
	if err != nil {
		return h.done(c, "", err)
	}
	return h.render(c, http.StatusOK, page{Details: &details, Borrowed: borrowed})
}

func (h *Handler) AddBookForm(c echo.Context) error {
	var req model.AddBookRequest
	if err := bind(c, &req); err != nil {
		return h.done(c, "", err)
	}
	book, err := h.librarySvc.AddBook(c.Request().Context(), req)
	if err != nil {
		return h.done(c, "", err)
	}
	return h.done(c, fmt.Sprintf("Added %q (id %d, %s).", book.Title, book.ID, book.Availability()), nil)
}

func (h *Handler) RegisterUserForm(c echo.Context) error {
	var req model.RegisterUserRequest
	if err := bind(c, &req); err != nil {
		return h.done(c, "", err)
	}
	user, err := h.librarySvc.RegisterUser(c.Request().Context(), req)
	if err != nil {
		return h.done(c, "", err)
	}
	return h.done(c, fmt.Sprintf("Registered %s (id %d, %s).", user.Name, user.ID, user.Tier), nil)
}

func (h *Handler) BorrowForm(c echo.Context) error {
	req, err := bindLoan(c)
	if err != nil {
		return h.done(c, "", err)
	}
	loan, err := h.librarySvc.Borrow(c.Request().Context(), req.UserID, req.BookID)
	if err != nil {
		return h.done(c, "", err)
	}
	return h.done(c, fmt.Sprintf("User %d borrowed book %d, due %s.", loan.UserID, loan.BookID, loan.DueDate.Format(time.DateOnly)), nil)
}

func (h *Handler) ReturnForm(c echo.Context) error {
	req, err := bindLoan(c)
	if err != nil {
		return h.done(c, "", err)
	}
	receipt, err := h.librarySvc.Return(c.Request().Context(), req.UserID, req.BookID)
	if err != nil {
		return h.done(c, "", err)
	}
	flash := fmt.Sprintf("Returned %q.", receipt.Title)
	if receipt.Fine > 0 {
		flash += fmt.Sprintf(" %d days overdue, fine %.2f.", receipt.OverdueDays, receipt.Fine)
	}
	return h.done(c, flash, nil)
}

func (h *Handler) PayFineForm(c echo.Context) error {
	userID, err := parseID("userId", c.FormValue("userId"))
	if err != nil {
		return h.done(c, "", err)
	}
	var req model.PayFineRequest
	if err = bind(c, &req); err != nil {
		return h.done(c, "", err)
	}
	user, err := h.librarySvc.PayFine(c.Request().Context(), userID, req)
	if err != nil {
		return h.done(c, "", err)
	}
	return h.done(c, fmt.Sprintf("%s paid %.2f, outstanding %.2f.", user.Name, req.Amount, user.Fines), nil)
}
