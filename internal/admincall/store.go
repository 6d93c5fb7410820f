package admincall

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("admincall: not found")
	// ErrAdminAuth is terminal: the caller is hung up without detail.
	ErrAdminAuth = errors.New("admincall: not authorized")
)

// Store is the persistence contract for admin users, shortcut codes,
// scheduled calls and in-flight admin calls.
type Store interface {
	// FindUserByPhone matches an active admin user by caller phone.
	FindUserByPhone(ctx context.Context, phone string) (AdminUser, bool, error)
	GetUser(ctx context.Context, id string) (AdminUser, error)

	// FindShortcut resolves a registered shortcut code to its full number.
	FindShortcut(ctx context.Context, code string) (ShortcutCode, bool, error)

	// FindPendingScheduledCall returns the user's oldest unconsumed
	// pre-authorization.
	FindPendingScheduledCall(ctx context.Context, adminUserID string) (ScheduledCall, bool, error)
	ConsumeScheduledCall(ctx context.Context, id string) error

	CreateCall(ctx context.Context, c Call) (Call, error)
	GetCall(ctx context.Context, id string) (Call, error)
	SaveCall(ctx context.Context, c Call) error
}
