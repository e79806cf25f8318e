package service_test

import (
	"context"
	"iter"
	"slices"
	"strings"

	"github.com/Astemirdum/library-desk/library/internal/errs"
	"github.com/Astemirdum/library-desk/library/internal/model"
	"github.com/Astemirdum/library-desk/library/internal/repository"
	"github.com/pkg/errors"
)

// memRepo keeps rows in id order, like the sql tables.
type memRepo struct {
	books []model.Book
	users []model.User
	loans []model.Loan

	failReserve error
	failReturn  error
	searches    int
}

var _ repository.Repository = (*memRepo)(nil)

func (m *memRepo) book(id int64) (*model.Book, error) {
	for i := range m.books {
		if m.books[i].ID == id {
			return &m.books[i], nil
		}
	}
	return nil, errors.Wrapf(errs.ErrNotFound, "books %d", id)
}

func (m *memRepo) user(id int64) (*model.User, error) {
	for i := range m.users {
		if m.users[i].ID == id {
			return &m.users[i], nil
		}
	}
	return nil, errors.Wrapf(errs.ErrNotFound, "users %d", id)
}

func (m *memRepo) CreateBook(_ context.Context, book model.Book) (model.Book, error) {
	for _, b := range m.books {
		if book.ISBN != "" && b.ISBN == book.ISBN {
			return model.Book{}, errors.Wrap(errs.ErrAlreadyExists, "books")
		}
	}
	book.ID = int64(len(m.books) + 1)
	m.books = append(m.books, book)
	return book, nil
}

func (m *memRepo) GetBook(_ context.Context, bookID int64) (model.Book, error) {
	b, err := m.book(bookID)
	if err != nil {
		return model.Book{}, err
	}
	return *b, nil
}

func (m *memRepo) ListBooks(context.Context) ([]model.Book, error) {
	return slices.Clone(m.books), nil
}

func (m *memRepo) SearchBooks(_ context.Context, text string) iter.Seq2[model.Book, error] {
	return func(yield func(model.Book, error) bool) {
		m.searches++
		text = strings.ToLower(text)
		for _, b := range m.books {
			if strings.Contains(strings.ToLower(b.Title), text) || strings.Contains(strings.ToLower(b.Author), text) {
				if !yield(b, nil) {
					return
				}
			}
		}
	}
}

func (m *memRepo) MostBorrowed(context.Context) ([]model.Book, error) {
	top := 0
	for _, b := range m.books {
		top = max(top, b.BorrowCount)
	}
	res := make([]model.Book, 0)
	for _, b := range m.books {
		if top > 0 && b.BorrowCount == top {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *memRepo) PopularBooks(_ context.Context, limit int) ([]model.Book, error) {
	res := make([]model.Book, 0)
	for _, b := range m.books {
		if b.BorrowCount > 0 {
			res = append(res, b)
		}
	}
	slices.SortStableFunc(res, func(a, b model.Book) int { return b.BorrowCount - a.BorrowCount })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memRepo) ReserveCopy(_ context.Context, bookID int64) error {
	if m.failReserve != nil {
		return m.failReserve
	}
	b, err := m.book(bookID)
	if err != nil {
		return err
	}
	if b.AvailableCopies <= 0 {
		return errs.ErrNoCopiesAvailable
	}
	b.AvailableCopies--
	b.BorrowCount++
	return nil
}

func (m *memRepo) CreateUser(_ context.Context, user model.User) (model.User, error) {
	user.ID = int64(len(m.users) + 1)
	m.users = append(m.users, user)
	return user, nil
}

func (m *memRepo) GetUser(_ context.Context, userID int64) (model.User, error) {
	u, err := m.user(userID)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

func (m *memRepo) ListUsers(context.Context) ([]model.User, error) {
	return slices.Clone(m.users), nil
}

func (m *memRepo) AddFine(_ context.Context, userID int64, amount float64) error {
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	u.Fines = model.RoundCurrency(u.Fines + amount)
	return nil
}

func (m *memRepo) PayFine(_ context.Context, userID int64, amount float64) error {
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	if u.Fines < amount {
		return errs.Validation(errors.New("amount exceeds outstanding fines"))
	}
	u.Fines = model.RoundCurrency(u.Fines - amount)
	return nil
}

func (m *memRepo) CreateLoan(_ context.Context, loan model.Loan) (model.Loan, error) {
	var last int64
	if len(m.loans) > 0 {
		last = m.loans[len(m.loans)-1].ID
	}
	loan.ID = last + 1
	m.loans = append(m.loans, loan)
	return loan, nil
}

func (m *memRepo) DeleteLoan(_ context.Context, loanID int64) error {
	for i, l := range m.loans {
		if l.ID == loanID {
			m.loans = slices.Delete(m.loans, i, i+1)
			return nil
		}
	}
	return errs.ErrNotFound
}

func (m *memRepo) GetOpenLoan(_ context.Context, userID, bookID int64) (model.Loan, error) {
	for _, l := range m.loans {
		if l.UserID == userID && l.BookID == bookID && l.ReturnDate == nil {
			return l, nil
		}
	}
	return model.Loan{}, errors.Wrap(errs.ErrNotFound, "open loan")
}

func (m *memRepo) ListOpenLoans(_ context.Context, userID int64) ([]model.Loan, error) {
	res := make([]model.Loan, 0)
	for _, l := range m.loans {
		if l.UserID == userID && l.ReturnDate == nil {
			res = append(res, l)
		}
	}
	return res, nil
}

func (m *memRepo) CountOpenLoans(ctx context.Context, userID int64) (int, error) {
	open, err := m.ListOpenLoans(ctx, userID)
	return len(open), err
}

// ReturnLoan applies all of its changes or none.
func (m *memRepo) ReturnLoan(_ context.Context, loan model.Loan) error {
	if m.failReturn != nil {
		return m.failReturn
	}
	i := slices.IndexFunc(m.loans, func(l model.Loan) bool { return l.ID == loan.ID && l.ReturnDate == nil })
	if i < 0 {
		return errs.ErrNotFound
	}
	u, err := m.user(loan.UserID)
	if err != nil {
		return err
	}
	b, err := m.book(loan.BookID)
	if err != nil {
		return err
	}
	if b.AvailableCopies >= b.TotalCopies {
		return errs.ErrNotFound
	}
	m.loans[i] = loan
	u.Fines = model.RoundCurrency(u.Fines + loan.Fine)
	b.AvailableCopies++
	return nil
}

func (m *memRepo) Stats(context.Context) (model.Statistics, error) {
	stats := model.Statistics{TotalBooks: len(m.books), TotalUsers: len(m.users)}
	for _, l := range m.loans {
		if l.ReturnDate == nil {
			stats.OpenLoans++
		}
	}
	for _, u := range m.users {
		stats.OutstandingFines += u.Fines
	}
	stats.OutstandingFines = model.RoundCurrency(stats.OutstandingFines)
	return stats, nil
}
