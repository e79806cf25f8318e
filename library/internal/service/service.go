package service

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/Astemirdum/library-desk/library/internal/errs"
	"github.com/Astemirdum/library-desk/library/internal/model"
	"github.com/Astemirdum/library-desk/library/internal/queue"
	libraryRepo "github.com/Astemirdum/library-desk/library/internal/repository"
	"github.com/Astemirdum/library-desk/pkg/validate"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultPopularLimit = 5

type Service struct {
	log       *zap.Logger
	repo      libraryRepo.Repository
	policy    model.Policy
	publisher queue.Publisher
	validator *validate.CustomValidator
	now       func() time.Time
}

type Option func(*Service)

func WithPolicy(p model.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithPublisher(p queue.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo libraryRepo.Repository, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		log:       log.Named("service"),
		repo:      repo,
		policy:    model.DefaultPolicy(),
		publisher: queue.Noop{},
		validator: validate.NewCustomValidator(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) validate(req any) error {
	if err := s.validator.Validate(req); err != nil {
		return errs.Validation(err)
	}
	return nil
}

func (s *Service) AddBook(ctx context.Context, req model.AddBookRequest) (model.Book, error) {
	if err := s.validate(req); err != nil {
		return model.Book{}, err
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		return model.Book{}, err
	}
	book := model.Book{
		ISBN:            strings.TrimSpace(req.ISBN),
		Title:           strings.TrimSpace(req.Title),
		Author:          strings.TrimSpace(req.Author),
		Genre:           strings.TrimSpace(req.Genre),
		Kind:            kind,
		TotalCopies:     req.Copies,
		AvailableCopies: req.Copies,
		CreatedAt:       s.now().UTC(),
	}
	book, err = s.repo.CreateBook(ctx, book)
	if err != nil {
		return model.Book{}, err
	}
	s.log.Info("book added", zap.Int64("bookId", book.ID), zap.String("title", book.Title), zap.Int("copies", book.TotalCopies))
	return book, nil
}

func (s *Service) GetBook(ctx context.Context, bookID int64) (model.Book, error) {
	return s.repo.GetBook(ctx, bookID)
}

func (s *Service) ListBooks(ctx context.Context) ([]model.Book, error) {
	return s.repo.ListBooks(ctx)
}

// SearchBooks lazily yields books whose title or author contains query.
// Every range over the result queries the store again.
func (s *Service) SearchBooks(ctx context.Context, query string) iter.Seq2[model.Book, error] {
	return s.repo.SearchBooks(ctx, strings.TrimSpace(query))
}

func (s *Service) PopularBooks(ctx context.Context, limit int) ([]model.Book, error) {
	if limit <= 0 {
		limit = defaultPopularLimit
	}
	return s.repo.PopularBooks(ctx, limit)
}

func (s *Service) RegisterUser(ctx context.Context, req model.RegisterUserRequest) (model.User, error) {
	if err := s.validate(req); err != nil {
		return model.User{}, err
	}
	tier, err := model.ParseTier(req.Tier)
	if err != nil {
		return model.User{}, err
	}
	user, err := s.repo.CreateUser(ctx, model.User{
		Name:      strings.TrimSpace(req.Name),
		Tier:      tier,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return model.User{}, err
	}
	s.log.Info("user registered", zap.Int64("userId", user.ID), zap.String("tier", string(user.Tier)))
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, userID int64) (model.UserDetails, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return model.UserDetails{}, err
	}
	limit, err := model.BorrowLimitFor(user.Tier)
	if err != nil {
		return model.UserDetails{}, err
	}
	open, err := s.repo.CountOpenLoans(ctx, userID)
	if err != nil {
		return model.UserDetails{}, err
	}
	return model.UserDetails{
		User:        user,
		BorrowLimit: limit,
		LoanDays:    s.policy.LoanDays[user.Tier],
		OpenLoans:   open,
		CanBorrow:   open < limit && !s.policy.BorrowingBlocked(user.Fines),
	}, nil
}

func (s *Service) Borrow(ctx context.Context, userID, bookID int64) (model.Loan, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return model.Loan{}, err
	}
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return model.Loan{}, err
	}
	limit, err := model.BorrowLimitFor(user.Tier)
	if err != nil {
		return model.Loan{}, err
	}
	open, err := s.repo.CountOpenLoans(ctx, userID)
	if err != nil {
		return model.Loan{}, err
	}
	if open >= limit {
		return model.Loan{}, errors.Wrapf(errs.ErrBorrowLimitExceeded, "%s membership allows %d books", user.Tier, limit)
	}
	if s.policy.BorrowingBlocked(user.Fines) {
		return model.Loan{}, errors.Wrapf(errs.ErrFinesOutstanding, "pay %.2f first", user.Fines)
	}
	if book.AvailableCopies <= 0 {
		return model.Loan{}, errors.Wrapf(errs.ErrNoCopiesAvailable, "all copies of %q are borrowed", book.Title)
	}

	now := s.now().UTC()
	loan, err := s.repo.CreateLoan(ctx, model.Loan{
		LoanUid:    uuid.NewString(),
		BookID:     book.ID,
		UserID:     user.ID,
		BorrowDate: now,
		DueDate:    now.Add(s.policy.LoanPeriod(user.Tier)),
	})
	if err != nil {
		return model.Loan{}, err
	}

	if err = s.repo.ReserveCopy(ctx, book.ID); err != nil {
		// the loan must not outlive a copy that was never taken
		if delErr := s.repo.DeleteLoan(ctx, loan.ID); delErr != nil {
			s.log.Error("DeleteLoan", zap.Int64("loanId", loan.ID), zap.Error(delErr))
		}
		return model.Loan{}, err
	}

	s.log.Info("book borrowed", zap.Int64("userId", user.ID), zap.Int64("bookId", book.ID), zap.Time("due", loan.DueDate))
	s.publish(ctx, model.EventBorrowed, loan)
	return loan, nil
}

func (s *Service) Return(ctx context.Context, userID, bookID int64) (model.ReturnReceipt, error) {
	loan, err := s.repo.GetOpenLoan(ctx, userID, bookID)
	if err != nil {
		return model.ReturnReceipt{}, err
	}
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return model.ReturnReceipt{}, err
	}

	now := s.now().UTC()
	loan.ReturnDate = &now
	loan.Fine = model.ComputeFine(loan.DueDate, now, s.policy.FinePerDay)
	if err = s.repo.ReturnLoan(ctx, loan); err != nil {
		return model.ReturnReceipt{}, err
	}

	overdue := model.DaysBetween(loan.DueDate, now)
	if overdue < 0 {
		overdue = 0
	}
	s.log.Info("book returned", zap.Int64("userId", userID), zap.Int64("bookId", bookID), zap.Float64("fine", loan.Fine))
	s.publish(ctx, model.EventReturned, loan)
	return model.ReturnReceipt{
		Loan:        loan,
		Title:       book.Title,
		OverdueDays: overdue,
		Fine:        loan.Fine,
	}, nil
}

func (s *Service) BorrowedBooks(ctx context.Context, userID int64) ([]model.BorrowedBook, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	loans, err := s.repo.ListOpenLoans(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	borrowed := make([]model.BorrowedBook, 0, len(loans))
	for _, loan := range loans {
		book, err := s.repo.GetBook(ctx, loan.BookID)
		if err != nil {
			return nil, err
		}
		borrowed = append(borrowed, model.BorrowedBook{
			Loan:          loan,
			Title:         book.Title,
			Author:        book.Author,
			DaysBorrowed:  model.DaysBetween(loan.BorrowDate, now),
			DaysRemaining: model.DaysBetween(now, loan.DueDate),
		})
	}
	return borrowed, nil
}

func (s *Service) PayFine(ctx context.Context, userID int64, req model.PayFineRequest) (model.User, error) {
	if err := s.validate(req); err != nil {
		return model.User{}, err
	}
	amount := model.RoundCurrency(req.Amount)
	if err := s.repo.PayFine(ctx, userID, amount); err != nil {
		return model.User{}, err
	}
	s.log.Info("fine paid", zap.Int64("userId", userID), zap.Float64("amount", amount))
	return s.repo.GetUser(ctx, userID)
}

func (s *Service) GetStatistics(ctx context.Context) (model.Statistics, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return model.Statistics{}, err
	}
	if stats.MostBorrowed, err = s.repo.MostBorrowed(ctx); err != nil {
		return model.Statistics{}, err
	}
	return stats, nil
}

func (s *Service) publish(ctx context.Context, typ model.EventType, loan model.Loan) {
	event := model.LoanEvent{
		EventID:   uuid.NewString(),
		Type:      typ,
		LoanUid:   loan.LoanUid,
		UserID:    loan.UserID,
		BookID:    loan.BookID,
		Fine:      loan.Fine,
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("publish loan event", zap.String("type", string(typ)), zap.String("loanUid", loan.LoanUid), zap.Error(err))
	}
}
