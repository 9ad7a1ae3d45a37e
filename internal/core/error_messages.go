package core

// Error codes reference.
//
// Users quote the code to support staff. Typed program errors are matched
// first with errors.As; anything else falls through to substring patterns.
//
// # Program Errors
//
//	FMT001  - Unknown upload format           (*ingest.FormatError)
//	PRS001  - Malformed row or record          (*ingest.ParseError)
//	PRS002  - Date/time not understood         (*ingest.TimeParseError)
//	CNS001  - Program is inconsistent          (*ingest.ConsistencyError)
//	ROOM001 - Stream row names unknown room    (*ingest.UnknownRoomError)
//	REC001  - Record not found                 (*ingest.NotFoundError)
//
// # Database Errors (DB001-DB007)
//
//	DB001 - Duplicate key            "duplicate key"
//	DB002 - Unique constraint        "unique constraint", "violates unique"
//	DB003 - Check constraint         "check constraint"
//	DB004 - Connection refused       "connection refused"
//	DB005 - Connection reset         "connection reset"
//	DB006 - Timeout                  "timeout"
//	DB007 - Deadlock                 "deadlock"
//
// # Upload Errors (UPL001-UPL005)
//
//	UPL001 - File too large              "request body too large"
//	UPL002 - System busy                 ErrTooManyUploads, ErrConferenceBusy
//	UPL003 - No file                     "no file provided"
//	UPL004 - Request cancelled           context.Canceled
//	UPL005 - Request timed out           context.DeadlineExceeded
//
// # Default Error (ERR000)
//
// Returned when nothing matches. Check the application log for the
// technical error.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/ProgramUpload/internal/ingest"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgFormat = UserMessage{
		Message: "The upload format is not supported",
		Action:  "Use one of: " + strings.Join(ingest.FormatTags(), ", "),
		Code:    "FMT001",
	}
	msgParse = UserMessage{
		Message: "The file could not be read",
		Action:  "Check the reported record and upload the corrected file",
		Code:    "PRS001",
	}
	msgTimeParse = UserMessage{
		Message: "A date or time could not be understood",
		Action:  "Use the date format named in the error and a valid time zone",
		Code:    "PRS002",
	}
	msgConsistency = UserMessage{
		Message: "The program contains conflicting entries",
		Action:  "Fix the reported sessions or items and upload again",
		Code:    "CNS001",
	}
	msgUnknownRoom = UserMessage{
		Message: "A room in the file does not exist in this conference",
		Action:  "Upload the program first or correct the room name",
		Code:    "ROOM001",
	}
	msgNotFound = UserMessage{
		Message: "The requested record was not found",
		Action:  "Refresh and check the identifiers",
		Code:    "REC001",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
	msgCanceled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}
	msgDeadline = UserMessage{
		Message: "Request timed out",
		Action:  "Try uploading a smaller file or check your connection",
		Code:    "UPL005",
	}
)

// typedMatches are tried in order before the string patterns. TimeParseError
// must precede ParseError because a ParseError can wrap one.
var typedMatches = []struct {
	match func(error) bool
	msg   UserMessage
}{
	{func(err error) bool { var e *ingest.FormatError; return errors.As(err, &e) }, msgFormat},
	{func(err error) bool { var e *ingest.TimeParseError; return errors.As(err, &e) }, msgTimeParse},
	{func(err error) bool { var e *ingest.ParseError; return errors.As(err, &e) }, msgParse},
	{func(err error) bool { var e *ingest.UnknownRoomError; return errors.As(err, &e) }, msgUnknownRoom},
	{func(err error) bool { var e *ingest.NotFoundError; return errors.As(err, &e) }, msgNotFound},
	{func(err error) bool { var e *ingest.ConsistencyError; return errors.As(err, &e) }, msgConsistency},
	{func(err error) bool { return errors.Is(err, ErrTooManyUploads) || errors.Is(err, ErrConferenceBusy) }, msgBusy},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages. The first match wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Run the upload again; existing records are reused",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "check constraint",
		msg: UserMessage{
			Message: "A record was rejected by the database",
			Action:  "Check that every session starts before it ends",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Run the upload again; completed steps are kept",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the program into smaller files",
			Code:    "UPL001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was provided",
			Action:  "Attach the program file to the request",
			Code:    "UPL003",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Typed program errors are matched first, then database and upload text
// patterns, then context cancellation. Unmatched errors map to ERR000.
//
// Example:
//
//	_, err := ingest.ParseFormat("yaml")
//	msg := MapError(err)
//	// msg.Code == "FMT001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, tm := range typedMatches {
		if tm.match(err) {
			return tm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return msgDeadline
	case errors.Is(err, context.Canceled):
		return msgCanceled
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
