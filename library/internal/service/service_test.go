package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/Astemirdum/library-desk/library/internal/errs"
	"github.com/Astemirdum/library-desk/library/internal/model"
	"github.com/Astemirdum/library-desk/library/internal/service"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

type recorder struct {
	events []model.LoanEvent
	err    error
}

func (r *recorder) Publish(_ context.Context, event model.LoanEvent) error {
	r.events = append(r.events, event)
	return r.err
}

type fixture struct {
	svc   *service.Service
	repo  *memRepo
	clock *clock
	pub   *recorder
}

func newFixture(t *testing.T, opts ...service.Option) fixture {
	t.Helper()
	f := fixture{
		repo:  &memRepo{},
		clock: &clock{now: time.Date(2024, time.February, 1, 10, 0, 0, 0, time.UTC)},
		pub:   &recorder{},
	}
	opts = append([]service.Option{
		service.WithClock(f.clock.Now),
		service.WithPublisher(f.pub),
	}, opts...)
	f.svc = service.NewService(f.repo, zap.NewNop(), opts...)
	return f
}

func (f fixture) addBook(t *testing.T, title string, kind model.Kind, copies int) model.Book {
	t.Helper()
	book, err := f.svc.AddBook(context.Background(), model.AddBookRequest{
		Title:  title,
		Author: "Author of " + title,
		Kind:   string(kind),
		Copies: copies,
	})
	require.NoError(t, err)
	return book
}

func (f fixture) register(t *testing.T, name string, tier model.Tier) model.User {
	t.Helper()
	user, err := f.svc.RegisterUser(context.Background(), model.RegisterUserRequest{Name: name, Tier: string(tier)})
	require.NoError(t, err)
	return user
}

func (f fixture) available(t *testing.T, bookID int64) int {
	t.Helper()
	book, err := f.svc.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return book.AvailableCopies
}

func TestService_AddBook(t *testing.T) {
	t.Parallel()
	for _, copies := range []int{1, 2, 7, 100} {
		f := newFixture(t)
		book := f.addBook(t, "Dune", model.KindPrinted, copies)
		require.Equal(t, copies, book.TotalCopies)
		require.Equal(t, copies, book.AvailableCopies)
		require.NotZero(t, book.ID)
	}
}

func TestService_AddBook_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		req     model.AddBookRequest
		wantErr error
	}{
		{
			name:    "zero copies",
			req:     model.AddBookRequest{Title: "T", Author: "A", Kind: "Printed", Copies: 0},
			wantErr: errs.ErrValidation,
		},
		{
			name:    "negative copies",
			req:     model.AddBookRequest{Title: "T", Author: "A", Kind: "Printed", Copies: -3},
			wantErr: errs.ErrValidation,
		},
		{
			name:    "no title",
			req:     model.AddBookRequest{Author: "A", Kind: "Printed", Copies: 1},
			wantErr: errs.ErrValidation,
		},
		{
			name:    "unknown kind",
			req:     model.AddBookRequest{Title: "T", Author: "A", Kind: "Audio", Copies: 1},
			wantErr: errs.ErrInvalidKind,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			_, err := f.svc.AddBook(context.Background(), tt.req)
			require.True(t, errors.Is(err, tt.wantErr), err)
			require.Empty(t, f.repo.books)
		})
	}
}

func TestService_AddBook_DuplicateISBN(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	req := model.AddBookRequest{ISBN: "978-0441013593", Title: "Dune", Author: "Frank Herbert", Kind: "Printed", Copies: 1}
	_, err := f.svc.AddBook(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.AddBook(context.Background(), req)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestService_RegisterUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user, err := f.svc.RegisterUser(context.Background(), model.RegisterUserRequest{Name: "Alice", Tier: "vip"})
	require.NoError(t, err)
	require.Equal(t, model.TierVIP, user.Tier)
	require.Zero(t, user.Fines)

	_, err = f.svc.RegisterUser(context.Background(), model.RegisterUserRequest{Name: "Bob", Tier: "Gold"})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.ErrorIs(t, err, errs.ErrInvalidTier)

	_, err = f.svc.RegisterUser(context.Background(), model.RegisterUserRequest{Tier: "Basic"})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestService_Borrow_LastCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "Alice", model.TierBasic)
	bob := f.register(t, "Bob", model.TierBasic)
	b1 := f.addBook(t, "B1", model.KindPrinted, 1)

	limit, err := model.BorrowLimitFor(alice.Tier)
	require.NoError(t, err)
	require.Equal(t, 2, limit)

	loan, err := f.svc.Borrow(ctx, alice.ID, b1.ID)
	require.NoError(t, err)
	require.Equal(t, model.LoanOpen, loan.Status())
	require.Equal(t, f.clock.now.AddDate(0, 0, 14), loan.DueDate)
	require.Equal(t, 0, f.available(t, b1.ID))

	_, err = f.svc.Borrow(ctx, bob.ID, b1.ID)
	require.ErrorIs(t, err, errs.ErrNoCopiesAvailable)
	require.Len(t, f.repo.loans, 1)
}

func TestService_Borrow_LimitExceeded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierBasic)
	books := []model.Book{
		f.addBook(t, "One", model.KindPrinted, 3),
		f.addBook(t, "Two", model.KindPrinted, 3),
		f.addBook(t, "Three", model.KindPrinted, 3),
	}

	for _, b := range books[:2] {
		_, err := f.svc.Borrow(ctx, user.ID, b.ID)
		require.NoError(t, err)
	}
	_, err := f.svc.Borrow(ctx, user.ID, books[2].ID)
	require.ErrorIs(t, err, errs.ErrBorrowLimitExceeded)
	require.Equal(t, 3, f.available(t, books[2].ID))

	open, err := f.repo.CountOpenLoans(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 2, open)
}

func TestService_Borrow_NeverExceedsLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, tier := range []model.Tier{model.TierBasic, model.TierPremium, model.TierVIP} {
		f := newFixture(t)
		user := f.register(t, "Reader", tier)
		book := f.addBook(t, "Shelf", model.KindPrinted, 50)
		limit, err := model.BorrowLimitFor(tier)
		require.NoError(t, err)

		for i := 0; i < limit+3; i++ {
			_, err := f.svc.Borrow(ctx, user.ID, book.ID)
			open, countErr := f.repo.CountOpenLoans(ctx, user.ID)
			require.NoError(t, countErr)
			require.LessOrEqual(t, open, limit)
			if i >= limit {
				require.ErrorIs(t, err, errs.ErrBorrowLimitExceeded)
			}
		}
	}
}

func TestService_Borrow_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierBasic)
	book := f.addBook(t, "B1", model.KindPrinted, 1)

	_, err := f.svc.Borrow(ctx, 42, book.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.svc.Borrow(ctx, user.ID, 42)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, 1, f.available(t, book.ID))
}

func TestService_Borrow_ReserveFailureDropsLoan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierBasic)
	book := f.addBook(t, "B1", model.KindPrinted, 1)
	f.repo.failReserve = errs.Storage("books.Update", errors.New("disk I/O error"))

	_, err := f.svc.Borrow(context.Background(), user.ID, book.ID)
	require.ErrorIs(t, err, errs.ErrStorage)
	require.Empty(t, f.repo.loans)
	require.Empty(t, f.pub.events)
}

func TestService_Borrow_FinesOutstanding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierBasic)
	book := f.addBook(t, "B1", model.KindPrinted, 1)
	require.NoError(t, f.repo.AddFine(ctx, user.ID, 12))

	_, err := f.svc.Borrow(ctx, user.ID, book.ID)
	require.ErrorIs(t, err, errs.ErrFinesOutstanding)

	paid, err := f.svc.PayFine(ctx, user.ID, model.PayFineRequest{Amount: 5})
	require.NoError(t, err)
	require.Equal(t, 7.0, paid.Fines)

	_, err = f.svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
}

func TestService_Borrow_Digital(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "Alice", model.TierBasic)
	bob := f.register(t, "Bob", model.TierBasic)
	ebook := f.addBook(t, "E1", model.KindDigital, 1)

	_, err := f.svc.Borrow(ctx, alice.ID, ebook.ID)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, bob.ID, ebook.ID)
	require.ErrorIs(t, err, errs.ErrNoCopiesAvailable)

	got, err := f.svc.GetBook(ctx, ebook.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.AvailableCopies)
	require.Equal(t, 1, got.BorrowCount)
	require.Equal(t, "Unlimited (Digital)", got.Availability())

	_, err = f.svc.Return(ctx, alice.ID, ebook.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.available(t, ebook.ID))
	_, err = f.svc.Borrow(ctx, bob.ID, ebook.ID)
	require.NoError(t, err)
}

func TestService_Borrow_LimitBeforeAvailability(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "Alice", model.TierBasic)
	bob := f.register(t, "Bob", model.TierBasic)
	a := f.addBook(t, "A", model.KindPrinted, 1)
	b := f.addBook(t, "B", model.KindPrinted, 1)
	c := f.addBook(t, "C", model.KindPrinted, 1)

	for _, id := range []int64{a.ID, b.ID} {
		_, err := f.svc.Borrow(ctx, alice.ID, id)
		require.NoError(t, err)
	}
	_, err := f.svc.Borrow(ctx, bob.ID, c.ID)
	require.NoError(t, err)

	_, err = f.svc.Borrow(ctx, alice.ID, c.ID)
	require.ErrorIs(t, err, errs.ErrBorrowLimitExceeded)
}

func TestService_Borrow_FinesBeforeAvailability(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "Alice", model.TierVIP)
	bob := f.register(t, "Bob", model.TierVIP)
	book := f.addBook(t, "B1", model.KindPrinted, 1)
	_, err := f.svc.Borrow(ctx, bob.ID, book.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.AddFine(ctx, alice.ID, 10.5))

	_, err = f.svc.Borrow(ctx, alice.ID, book.ID)
	require.ErrorIs(t, err, errs.ErrFinesOutstanding)
}

func TestService_Return_Fine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	policy := model.DefaultPolicy()
	policy.FinePerDay = 2
	f := newFixture(t, service.WithPolicy(policy))
	user := f.register(t, "Alice", model.TierBasic)
	book := f.addBook(t, "B1", model.KindPrinted, 1)

	loan, err := f.svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)

	f.clock.now = loan.DueDate.AddDate(0, 0, 5)
	receipt, err := f.svc.Return(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.Equal(t, 10.0, receipt.Fine)
	require.Equal(t, 5, receipt.OverdueDays)
	require.Equal(t, "B1", receipt.Title)
	require.Equal(t, model.LoanClosed, receipt.Loan.Status())

	details, err := f.svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 10.0, details.Fines)
	require.Equal(t, 0, details.OpenLoans)
	require.True(t, details.CanBorrow)
}

func TestService_Return_OnTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierPremium)
	book := f.addBook(t, "B1", model.KindPrinted, 2)

	loan, err := f.svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.Equal(t, f.clock.now.AddDate(0, 0, 21), loan.DueDate)

	f.clock.advance(21 * 24 * time.Hour)
	receipt, err := f.svc.Return(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.Zero(t, receipt.Fine)
	require.Zero(t, receipt.OverdueDays)

	u, err := f.repo.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.Zero(t, u.Fines)
}

func TestService_Return_NoOpenLoan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierBasic)
	book := f.addBook(t, "B1", model.KindPrinted, 1)

	_, err := f.svc.Return(ctx, user.ID, book.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, user.ID, book.ID)
	require.NoError(t, err)

	// a closed loan is never reopened or returned twice
	_, err = f.svc.Return(ctx, user.ID, book.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, 1, f.available(t, book.ID))
}

func TestService_Return_StorageFailureKeepsLoan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierBasic)
	book := f.addBook(t, "B1", model.KindPrinted, 1)
	_, err := f.svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)

	f.repo.failReturn = errs.Storage("Commit", errors.New("database is locked"))
	_, err = f.svc.Return(ctx, user.ID, book.ID)
	require.ErrorIs(t, err, errs.ErrStorage)

	open, err := f.repo.GetOpenLoan(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.Equal(t, model.LoanOpen, open.Status())
	require.Equal(t, 0, f.available(t, book.ID))
	require.Len(t, f.pub.events, 1)
}

func TestService_BorrowReturnRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierVIP)
	book := f.addBook(t, "B1", model.KindPrinted, 3)

	before := f.available(t, book.ID)
	_, err := f.svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.Equal(t, before-1, f.available(t, book.ID))

	_, err = f.svc.Return(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.Equal(t, before, f.available(t, book.ID))

	_, err = f.svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.Equal(t, before-1, f.available(t, book.ID))
}

func TestService_SearchBooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.AddBook(ctx, model.AddBookRequest{Title: "The Go Programming Language", Author: "Donovan", Kind: "Printed", Copies: 1})
	require.NoError(t, err)
	_, err = f.svc.AddBook(ctx, model.AddBookRequest{Title: "Dune", Author: "Frank Herbert", Kind: "Digital", Copies: 1})
	require.NoError(t, err)
	_, err = f.svc.AddBook(ctx, model.AddBookRequest{Title: "Concurrency in Go", Author: "Katherine Cox-Buday", Kind: "Printed", Copies: 2})
	require.NoError(t, err)

	collect := func(query string) []string {
		var titles []string
		for book, err := range f.svc.SearchBooks(ctx, query) {
			require.NoError(t, err)
			titles = append(titles, book.Title)
		}
		return titles
	}

	results := f.svc.SearchBooks(ctx, "GO")
	var first, second []string
	for book, err := range results {
		require.NoError(t, err)
		first = append(first, book.Title)
	}
	for book, err := range results {
		require.NoError(t, err)
		second = append(second, book.Title)
	}
	require.Equal(t, []string{"The Go Programming Language", "Concurrency in Go"}, first)
	require.Equal(t, first, second)
	require.Equal(t, 2, f.repo.searches)

	require.Equal(t, []string{"Dune"}, collect("herbert"))
	require.Empty(t, collect("tolstoy"))

	for book := range f.svc.SearchBooks(ctx, "go") {
		require.Equal(t, "The Go Programming Language", book.Title)
		break
	}
}

func TestService_GetStatistics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	stats, err := f.svc.GetStatistics(ctx)
	require.NoError(t, err)
	require.Equal(t, model.Statistics{MostBorrowed: []model.Book{}}, stats)

	alice := f.register(t, "Alice", model.TierVIP)
	bob := f.register(t, "Bob", model.TierVIP)
	b1 := f.addBook(t, "B1", model.KindPrinted, 5)
	b2 := f.addBook(t, "B2", model.KindPrinted, 5)
	f.addBook(t, "B3", model.KindPrinted, 5)

	for _, id := range []int64{b2.ID, b1.ID, b2.ID, b1.ID} {
		_, err := f.svc.Borrow(ctx, alice.ID, id)
		require.NoError(t, err)
	}
	_, err = f.svc.Borrow(ctx, bob.ID, b1.ID)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, bob.ID, b1.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.AddFine(ctx, bob.ID, 1.25))

	stats, err = f.svc.GetStatistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalBooks)
	require.Equal(t, 2, stats.TotalUsers)
	require.Equal(t, 4, stats.OpenLoans)
	require.Equal(t, 1.25, stats.OutstandingFines)
	require.Len(t, stats.MostBorrowed, 1)
	require.Equal(t, b1.ID, stats.MostBorrowed[0].ID)

	_, err = f.svc.Borrow(ctx, bob.ID, b2.ID)
	require.NoError(t, err)
	stats, err = f.svc.GetStatistics(ctx)
	require.NoError(t, err)
	require.Len(t, stats.MostBorrowed, 2)
	require.Equal(t, []int64{b1.ID, b2.ID}, []int64{stats.MostBorrowed[0].ID, stats.MostBorrowed[1].ID})

	popular, err := f.svc.PopularBooks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, popular, 2)
}

func TestService_BorrowedBooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierBasic)
	book := f.addBook(t, "B1", model.KindPrinted, 1)

	_, err := f.svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)

	f.clock.advance(16 * 24 * time.Hour)
	borrowed, err := f.svc.BorrowedBooks(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	require.Equal(t, "B1", borrowed[0].Title)
	require.Equal(t, 16, borrowed[0].DaysBorrowed)
	require.Equal(t, -2, borrowed[0].DaysRemaining)
	require.True(t, borrowed[0].Overdue())

	_, err = f.svc.BorrowedBooks(ctx, 99)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestService_PayFine_Invalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "Alice", model.TierBasic)
	require.NoError(t, f.repo.AddFine(ctx, user.ID, 3))

	_, err := f.svc.PayFine(ctx, user.ID, model.PayFineRequest{Amount: 0})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.svc.PayFine(ctx, user.ID, model.PayFineRequest{Amount: 3.5})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.svc.PayFine(ctx, 77, model.PayFineRequest{Amount: 1})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestService_PublishesLoanEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	user := f.register(t, "Alice", model.TierBasic)
	book := f.addBook(t, "B1", model.KindPrinted, 1)

	loan, err := f.svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, user.ID, book.ID)
	require.NoError(t, err)

	require.Len(t, f.pub.events, 2)
	require.Equal(t, model.EventBorrowed, f.pub.events[0].Type)
	require.Equal(t, model.EventReturned, f.pub.events[1].Type)
	require.Equal(t, loan.LoanUid, f.pub.events[1].LoanUid)
	require.NotEqual(t, f.pub.events[0].EventID, f.pub.events[1].EventID)
}
