package nntpserver

import "fmt"

// NNTPError is a reply sent in place of a command's normal response. The
// connection stays open.
type NNTPError struct {
	Code int
	Msg  string
}

func (e *NNTPError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Msg)
}

var ErrInternal = &NNTPError{403, "internal fault"}
var ErrNoSuchGroup = &NNTPError{411, "No such newsgroup"}
var ErrNoGroupSelected = &NNTPError{412, "No newsgroup selected"}
var ErrNoCurrentArticle = &NNTPError{420, "Current article number is invalid"}
var ErrNoNextArticle = &NNTPError{421, "No next article in this group"}
var ErrNoPrevArticle = &NNTPError{422, "No previous article in this group"}
var ErrInvalidArticleNumber = &NNTPError{423, "No article with that number"}
var ErrInvalidMessageID = &NNTPError{430, "No article with that message-id"}
var ErrPostingNotPermitted = &NNTPError{440, "Posting not permitted"}
var ErrNotAuthenticated = &NNTPError{480, "authentication required"}
var ErrAuthRejected = &NNTPError{481, "authentication failed"}
var ErrAuthOutOfSequence = &NNTPError{482, "authentication commands issued out of sequence"}
var ErrUnknownCommand = &NNTPError{500, "Unknown command"}
var ErrSyntax = &NNTPError{501, "not supported, or syntax error"}
var ErrLineTooLong = &NNTPError{501, "line too long"}
var ErrAlreadyAuthenticated = &NNTPError{502, "command unavailable"}
