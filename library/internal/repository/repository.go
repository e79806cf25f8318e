package repository

import (
	"context"
	"iter"
	"strings"

	"github.com/Astemirdum/library-desk/library/internal/errs"
	"github.com/Astemirdum/library-desk/library/internal/model"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Repository interface {
	CreateBook(ctx context.Context, book model.Book) (model.Book, error)
	GetBook(ctx context.Context, bookID int64) (model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	SearchBooks(ctx context.Context, text string) iter.Seq2[model.Book, error]
	MostBorrowed(ctx context.Context) ([]model.Book, error)
	PopularBooks(ctx context.Context, limit int) ([]model.Book, error)
	ReserveCopy(ctx context.Context, bookID int64) error

	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUser(ctx context.Context, userID int64) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	PayFine(ctx context.Context, userID int64, amount float64) error

	CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error)
	DeleteLoan(ctx context.Context, loanID int64) error
	GetOpenLoan(ctx context.Context, userID, bookID int64) (model.Loan, error)
	ListOpenLoans(ctx context.Context, userID int64) ([]model.Loan, error)
	CountOpenLoans(ctx context.Context, userID int64) (int, error)
	ReturnLoan(ctx context.Context, loan model.Loan) error

	Stats(ctx context.Context) (model.Statistics, error)
}

type repository struct {
	db      *sqlx.DB
	qb      sq.StatementBuilderType
	dialect Dialect
	log     *zap.Logger

	books *Table[model.Book]
	users *Table[model.User]
	loans *Table[model.Loan]
}

const (
	booksTableName = `books`
	usersTableName = `users`
	loansTableName = `loans`
)

var openLoan = sq.Eq{"return_date": nil}

func NewRepository(db *sqlx.DB, dialect Dialect, log *zap.Logger) (*repository, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	r := &repository{
		db:      db,
		qb:      sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder),
		dialect: dialect,
		log:     log.Named("repo"),
	}
	r.books = newTable(r, booksTableName,
		[]string{"id", "isbn", "title", "author", "genre", "kind", "total_copies", "available_copies", "borrow_count", "created_at"},
		func(b model.Book) int64 { return b.ID },
		func(b model.Book) map[string]any {
			return map[string]any{
				"isbn":             b.ISBN,
				"title":            b.Title,
				"author":           b.Author,
				"genre":            b.Genre,
				"kind":             string(b.Kind),
				"total_copies":     b.TotalCopies,
				"available_copies": b.AvailableCopies,
				"borrow_count":     b.BorrowCount,
				"created_at":       b.CreatedAt,
			}
		})
	r.users = newTable(r, usersTableName,
		[]string{"id", "name", "tier", "fines", "created_at"},
		func(u model.User) int64 { return u.ID },
		func(u model.User) map[string]any {
			return map[string]any{
				"name":       u.Name,
				"tier":       string(u.Tier),
				"fines":      u.Fines,
				"created_at": u.CreatedAt,
			}
		})
	r.loans = newTable(r, loansTableName,
		[]string{"id", "loan_uid", "book_id", "user_id", "borrow_date", "due_date", "return_date", "fine"},
		func(l model.Loan) int64 { return l.ID },
		func(l model.Loan) map[string]any {
			return map[string]any{
				"loan_uid":    l.LoanUid,
				"book_id":     l.BookID,
				"user_id":     l.UserID,
				"borrow_date": l.BorrowDate,
				"due_date":    l.DueDate,
				"return_date": l.ReturnDate,
				"fine":        l.Fine,
			}
		})
	return r, nil
}

func (r *repository) CreateBook(ctx context.Context, book model.Book) (model.Book, error) {
	book.ID = 0
	id, err := r.books.Put(ctx, book)
	if err != nil {
		return model.Book{}, err
	}
	book.ID = id
	return book, nil
}

func (r *repository) GetBook(ctx context.Context, bookID int64) (model.Book, error) {
	return r.books.Get(ctx, bookID)
}

func (r *repository) ListBooks(ctx context.Context) ([]model.Book, error) {
	return r.books.Query(ctx, nil)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// matchText matches books whose title or author contains text, ignoring case.
// lower names the SQL function that folds case the way strings.ToLower does.
func matchText(lower, text string) sq.Sqlizer {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(text)) + "%"
	return sq.Or{
		sq.Expr(lower+`(title) LIKE ? ESCAPE '\'`, pattern),
		sq.Expr(lower+`(author) LIKE ? ESCAPE '\'`, pattern),
	}
}

func (r *repository) SearchBooks(ctx context.Context, text string) iter.Seq2[model.Book, error] {
	return r.books.Scan(ctx, matchText(r.dialect.lower(), text))
}

// MostBorrowed returns the books sharing the highest borrow count, lowest id first.
func (r *repository) MostBorrowed(ctx context.Context) ([]model.Book, error) {
	return r.books.Query(ctx, sq.And{
		sq.Gt{"borrow_count": 0},
		sq.Expr("borrow_count = (SELECT MAX(borrow_count) FROM " + booksTableName + ")"),
	})
}

func (r *repository) PopularBooks(ctx context.Context, limit int) ([]model.Book, error) {
	q := r.books.selectAll().
		Where(sq.Gt{"borrow_count": 0}).
		OrderBy("borrow_count DESC", "id").
		Limit(uint64(limit))
	return r.books.list(ctx, q)
}

// ReserveCopy takes one copy off the shelf in a single statement.
func (r *repository) ReserveCopy(ctx context.Context, bookID int64) error {
	upd := r.qb.Update(booksTableName).
		Set("available_copies", sq.Expr("available_copies - 1")).
		Set("borrow_count", sq.Expr("borrow_count + 1")).
		Where(sq.Eq{"id": bookID}).
		Where(sq.Gt{"available_copies": 0})
	err := r.books.exec(ctx, r.db, upd, errs.ErrNoCopiesAvailable)
	if errors.Is(err, errs.ErrNoCopiesAvailable) {
		if _, getErr := r.books.Get(ctx, bookID); getErr != nil {
			return getErr
		}
	}
	return err
}

func (r *repository) releaseCopy(bookID int64) sq.UpdateBuilder {
	return r.qb.Update(booksTableName).
		Set("available_copies", sq.Expr("available_copies + 1")).
		Where(sq.Eq{"id": bookID}).
		Where(sq.Expr("available_copies < total_copies"))
}

func (r *repository) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	user.ID = 0
	id, err := r.users.Put(ctx, user)
	if err != nil {
		return model.User{}, err
	}
	user.ID = id
	return user, nil
}

func (r *repository) GetUser(ctx context.Context, userID int64) (model.User, error) {
	return r.users.Get(ctx, userID)
}

func (r *repository) ListUsers(ctx context.Context) ([]model.User, error) {
	return r.users.Query(ctx, nil)
}

func (r *repository) addFine(userID int64, amount float64) sq.UpdateBuilder {
	return r.qb.Update(usersTableName).
		Set("fines", sq.Expr("ROUND(CAST(fines + ? AS NUMERIC), 2)", amount)).
		Where(sq.Eq{"id": userID})
}

func (r *repository) AddFine(ctx context.Context, userID int64, amount float64) error {
	return r.users.exec(ctx, r.db, r.addFine(userID, amount), errors.Wrapf(errs.ErrNotFound, "user %d", userID))
}

// PayFine settles amount of the user's fines; it never drives them below zero.
func (r *repository) PayFine(ctx context.Context, userID int64, amount float64) error {
	upd := r.qb.Update(usersTableName).
		Set("fines", sq.Expr("ROUND(CAST(fines - ? AS NUMERIC), 2)", amount)).
		Where(sq.Eq{"id": userID}).
		Where(sq.GtOrEq{"fines": amount})
	err := r.users.exec(ctx, r.db, upd, errs.Validation(errors.New("amount exceeds outstanding fines")))
	if errors.Is(err, errs.ErrValidation) {
		if _, getErr := r.users.Get(ctx, userID); getErr != nil {
			return getErr
		}
	}
	return err
}

func (r *repository) CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error) {
	loan.ID = 0
	id, err := r.loans.Put(ctx, loan)
	if err != nil {
		return model.Loan{}, err
	}
	loan.ID = id
	return loan, nil
}

func (r *repository) DeleteLoan(ctx context.Context, loanID int64) error {
	return r.loans.Delete(ctx, loanID)
}

// GetOpenLoan returns the oldest open loan of the book by the user.
func (r *repository) GetOpenLoan(ctx context.Context, userID, bookID int64) (model.Loan, error) {
	loans, err := r.loans.Query(ctx, sq.And{
		sq.Eq{"user_id": userID, "book_id": bookID},
		openLoan,
	})
	if err != nil {
		return model.Loan{}, err
	}
	if len(loans) == 0 {
		return model.Loan{}, errors.Wrapf(errs.ErrNotFound, "open loan of book %d by user %d", bookID, userID)
	}
	return loans[0], nil
}

func (r *repository) ListOpenLoans(ctx context.Context, userID int64) ([]model.Loan, error) {
	return r.loans.Query(ctx, sq.And{sq.Eq{"user_id": userID}, openLoan})
}

func (r *repository) CountOpenLoans(ctx context.Context, userID int64) (int, error) {
	return r.loans.Count(ctx, sq.And{sq.Eq{"user_id": userID}, openLoan})
}

// ReturnLoan closes an open loan, charges its fine and puts the copy back
// in one transaction. A loan closes once.
func (r *repository) ReturnLoan(ctx context.Context, loan model.Loan) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		closeLoan := r.qb.Update(loansTableName).
			Set("return_date", loan.ReturnDate).
			Set("fine", loan.Fine).
			Where(sq.Eq{"id": loan.ID}).
			Where(openLoan)
		if err := r.loans.exec(ctx, tx, closeLoan, errors.Wrapf(errs.ErrNotFound, "open loan %d", loan.ID)); err != nil {
			return err
		}
		if loan.Fine > 0 {
			if err := r.users.exec(ctx, tx, r.addFine(loan.UserID, loan.Fine), errors.Wrapf(errs.ErrNotFound, "user %d", loan.UserID)); err != nil {
				return err
			}
		}
		return r.books.exec(ctx, tx, r.releaseCopy(loan.BookID), errors.Wrapf(errs.ErrNotFound, "borrowed copy of book %d", loan.BookID))
	})
}

func (r *repository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Storage("BeginTxx", err)
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.log.Error("Rollback", zap.Error(rbErr))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return errs.Storage("Commit", err)
	}
	return nil
}

func (r *repository) Stats(ctx context.Context) (model.Statistics, error) {
	const q = `
	select (select count(*) from books)                        as total_books,
	       (select count(*) from users)                        as total_users,
	       (select count(*) from loans where return_date is null) as open_loans,
	       (select coalesce(sum(fines), 0) from users)         as outstanding_fines`

	var stats model.Statistics
	if err := r.db.GetContext(ctx, &stats, q); err != nil {
		return model.Statistics{}, errs.Storage("Stats", err)
	}
	stats.OutstandingFines = model.RoundCurrency(stats.OutstandingFines)
	return stats, nil
}
