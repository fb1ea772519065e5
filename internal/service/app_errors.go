package service

import (
	"errors"

	apperrors "soop-chat/backend/pkg/errors"
)

// ToAppError maps a domain error onto its client-facing form. Unknown errors
// become an opaque internal error.
func ToAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, ErrRoomNotFound):
		return apperrors.NewNotFoundError("ROOM_NOT_FOUND", "Room not found").WithCause(err)
	case errors.Is(err, ErrMessageNotFound):
		return apperrors.NewNotFoundError("MESSAGE_NOT_FOUND", "Message not found").WithCause(err)
	case errors.Is(err, ErrUserNotFound):
		return apperrors.NewNotFoundError("USER_NOT_FOUND", "User not found").WithCause(err)
	case errors.Is(err, ErrBotProfileNotFound):
		return apperrors.NewNotFoundError("BOT_NOT_FOUND", "Bot profile not found").WithCause(err)
	case errors.Is(err, ErrNotMember):
		return apperrors.NewForbiddenError("NOT_MEMBER", "You are not a member of this room").WithCause(err)
	case errors.Is(err, ErrRoomDisabled):
		return apperrors.NewConflictError("ROOM_DISABLED", "Room is not accepting messages").WithCause(err)
	case errors.Is(err, ErrInvalidBody):
		return apperrors.NewBadRequestError("INVALID_BODY", "Message body is empty or too long").WithCause(err)
	case errors.Is(err, ErrInvalidTarget):
		return apperrors.NewBadRequestError("INVALID_TARGET", "Cannot open a room with yourself").WithCause(err)
	case errors.Is(err, ErrInvalidProfile):
		return apperrors.NewBadRequestError("INVALID_PROFILE", err.Error()).WithCause(err)
	case errors.Is(err, ErrStoreWrite):
		return apperrors.NewServiceUnavailableError("STORE_UNAVAILABLE", "Message could not be stored, please retry").WithCause(err)
	default:
		return apperrors.FromError(err)
	}
}
