package handler

import (
	"context"
	"iter"

	"github.com/Astemirdum/library-desk/library/internal/model"
	"github.com/Astemirdum/library-desk/library/internal/service"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

type LibraryService interface {
	AddBook(ctx context.Context, req model.AddBookRequest) (model.Book, error)
	GetBook(ctx context.Context, bookID int64) (model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	SearchBooks(ctx context.Context, query string) iter.Seq2[model.Book, error]
	PopularBooks(ctx context.Context, limit int) ([]model.Book, error)

	RegisterUser(ctx context.Context, req model.RegisterUserRequest) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	GetUser(ctx context.Context, userID int64) (model.UserDetails, error)
	BorrowedBooks(ctx context.Context, userID int64) ([]model.BorrowedBook, error)
	PayFine(ctx context.Context, userID int64, req model.PayFineRequest) (model.User, error)

	Borrow(ctx context.Context, userID, bookID int64) (model.Loan, error)
	Return(ctx context.Context, userID, bookID int64) (model.ReturnReceipt, error)

	GetStatistics(ctx context.Context) (model.Statistics, error)
}

var _ LibraryService = (*service.Service)(nil)
