package core

// error_messages.go turns technical errors into short messages with a support
// code. Users quote the code; support looks it up here.
//
// # Source Errors (SRC)
//
//	SRC001 - Source unavailable: the URL or file could not be read
//	SRC002 - Source too large: the source exceeds IMPORT_MAX_SOURCE_BYTES
//
// # Parse Errors (PARSE)
//
//	PARSE001 - Invalid content: the source is not valid CSV or JSON
//	PARSE002 - Unsupported type: the source does not end in .csv or .json
//
// # Database Errors (DB)
//
//	DB000 - Save failed: the batch was rolled back
//	DB001 - Duplicate key: an item with this name and category already exists
//	DB004 - Connection refused: the database is unreachable
//	DB005 - Connection reset: the database connection dropped
//	DB006 - Timeout: a database operation timed out
//	DB007 - Deadlock: conflicting writes, retry
//
// # Import Errors (IMP)
//
//	IMP001 - System busy: every import slot is taken
//	IMP002 - Import timed out: the run exceeded IMPORT_TIMEOUT
//	IMP003 - Request cancelled
//
// # API Errors (API)
//
//	API001 - Invalid page: the page is past the last one
//	API002 - Invalid filter: a query parameter could not be parsed
//	API003 - Invalid request: the request body or source is not acceptable
//
//	RATE001 - Rate limited
//	ERR000  - Anything else; check the logs for the technical error
//
// Rules are checked in order and the first match wins. A rule can require a
// sentinel (matched with errors.Is), a message fragment (case-insensitive),
// or both.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/itemstats/internal/etl"
	"github.com/JonMunkholm/itemstats/internal/store"
)

var (
	// ErrInvalidFilter marks a query parameter that could not be parsed.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidRequest marks a request body the API cannot accept.
	ErrInvalidRequest = errors.New("invalid request")
)

// UserMessage is an error as shown to a user.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type errorRule struct {
	is      error  // Sentinel the error must wrap, if set
	pattern string // Lower-case fragment the message must contain, if set
	msg     UserMessage
}

func (r errorRule) matches(err error, lower string) bool {
	if r.is != nil && !errors.Is(err, r.is) {
		return false
	}
	if r.pattern != "" && !strings.Contains(lower, r.pattern) {
		return false
	}
	return true
}

var errorRules = []errorRule{
	{
		is:      etl.ErrSourceUnavailable,
		pattern: "source too large",
		msg: UserMessage{
			Message: "The import source is too large",
			Action:  "Split the source or raise IMPORT_MAX_SOURCE_BYTES",
			Code:    "SRC002",
		},
	},
	{
		is: etl.ErrSourceUnavailable,
		msg: UserMessage{
			Message: "The import source could not be fetched",
			Action:  "Check that the URL or path exists and is reachable",
			Code:    "SRC001",
		},
	},
	{
		is:      etl.ErrParse,
		pattern: "unsupported source type",
		msg: UserMessage{
			Message: "Unsupported source type",
			Action:  "Use a .csv or .json source",
			Code:    "PARSE002",
		},
	},
	{
		is: etl.ErrParse,
		msg: UserMessage{
			Message: "The import source is not valid CSV or JSON",
			Action:  "Check the file format; CSV needs a header row",
			Code:    "PARSE001",
		},
	},
	{
		is: ErrTooManyImports,
		msg: UserMessage{
			Message: "Too many imports in progress",
			Action:  "Please wait a moment and try again",
			Code:    "IMP001",
		},
	},
	{
		is: store.ErrInvalidPage,
		msg: UserMessage{
			Message: "Invalid page.",
			Action:  "Request a page between 1 and the last page",
			Code:    "API001",
		},
	},
	{
		is: ErrInvalidFilter,
		msg: UserMessage{
			Message: "Invalid filter value",
			Action:  "price_min and price_max must be numbers; page and page_size must be positive integers",
			Code:    "API002",
		},
	},
	{
		is: ErrInvalidRequest,
		msg: UserMessage{
			Message: "Invalid import request",
			Action:  `Send {"source": "https://..."} or an empty body to use the configured source`,
			Code:    "API003",
		},
	},
	{
		is: context.DeadlineExceeded,
		msg: UserMessage{
			Message: "The import timed out",
			Action:  "Try a smaller source or raise IMPORT_TIMEOUT",
			Code:    "IMP002",
		},
	},
	{
		is: context.Canceled,
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "IMP003",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "An item with this name and category already exists",
			Action:  "Re-run the import; existing items are updated in place",
			Code:    "DB001",
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
			Action:  "Please try again",
			Code:    "DB005",
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
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},
	{
		is: etl.ErrPersistence,
		msg: UserMessage{
			Message: "The import could not be saved",
			Action:  "Nothing was written; check the logs and retry",
			Code:    "DB000",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError returns the user message for err. A nil error maps to the zero message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	lower := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		if rule.matches(err, lower) {
			return rule.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}
