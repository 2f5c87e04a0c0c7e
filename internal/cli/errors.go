package cli

import (
	"errors"
	"strings"

	"chitieu/internal/amqp"
	"chitieu/internal/chat"
	"chitieu/internal/collection"
	"chitieu/internal/core"
	"chitieu/internal/directory"
	"chitieu/internal/gateway"
	"chitieu/internal/ledger"
	"chitieu/internal/session"
	"chitieu/internal/vocab"
)

// UserMessage turns an error into the sentence shown to the user. Errors
// outside the known taxonomy get a generic message; details stay in the log.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var partial *ledger.PartialFailureError
	switch {
	case errors.Is(err, gateway.ErrAuth), errors.Is(err, collection.ErrUnauthorized):
		return "Your session has expired or is missing. Please sign in again."

	case errors.As(err, &partial):
		done := make([]string, len(partial.Completed))
		for i, s := range partial.Completed {
			done[i] = string(s)
		}
		return "Only part of the change was saved (" + strings.Join(done, ", ") +
			" succeeded, " + string(partial.Failed) + " failed). Refresh and check the result before retrying."

	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "The balance is too low for this expense."
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return "This amount would push the balance past the largest amount that can be stored."
	case errors.Is(err, ledger.ErrDuplicateCategory):
		return "A category with this name already exists."
	case errors.Is(err, ledger.ErrUnknownCategory):
		return "That category does not exist."
	case errors.Is(err, ledger.ErrUnknownEntry):
		return "That entry does not exist."
	case errors.Is(err, ledger.ErrNoObjectStore):
		return "Receipt storage is not configured."
	case errors.Is(err, vocab.ErrUnknownWord):
		return "That word is not in your list."
	case errors.Is(err, ledger.ErrRemoteWriteFailed), errors.Is(err, chat.ErrSendFailed), errors.Is(err, vocab.ErrWriteFailed):
		return "The change could not be saved. Nothing was written, you can try again."

	case errors.Is(err, session.ErrInvalidCredentials):
		return "Wrong email or password."
	case errors.Is(err, session.ErrEmailTaken):
		return "This email is already registered."
	case errors.Is(err, session.ErrInvalidEmail):
		return "Please enter a valid email address."
	case errors.Is(err, session.ErrWeakPassword):
		return "The password must be at least 6 characters long."
	case errors.Is(err, directory.ErrUnknownUser):
		return "That user does not exist."

	case errors.Is(err, core.ErrInvalidAmount):
		return "The amount must be a positive whole number."
	case errors.Is(err, core.ErrInvalidKind):
		return "The entry type must be IN or OUT."
	case errors.Is(err, core.ErrEmptyName):
		return "The category name cannot be empty."
	case errors.Is(err, core.ErrEmptyContent):
		return "The message cannot be empty."
	case errors.Is(err, core.ErrMissingCategory):
		return "Choose a category first."
	case errors.Is(err, core.ErrMissingWord):
		return "Both the word and its meaning are required."
	case errors.Is(err, core.ErrInvalidStatus):
		return "The status must be learned or unlearned."
	case errors.Is(err, core.ErrMissingUser):
		return "Please sign in first."

	case errors.Is(err, gateway.ErrConstraint):
		return "The change was rejected because it conflicts with existing data."
	case errors.Is(err, gateway.ErrStorage):
		return "The file could not be stored. Please try again."
	case errors.Is(err, collection.ErrRemoteUnavailable), errors.Is(err, gateway.ErrTransport):
		return "The server could not be reached. Check your connection and try again."
	case errors.Is(err, amqp.ErrCircuitOpen):
		return "Live updates are temporarily unavailable."
	case errors.Is(err, collection.ErrClosed):
		return "This view was closed."
	}
	return "Something went wrong. Please try again."
}
