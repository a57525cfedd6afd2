package signup

import (
	"net/http"
	"net/mail"
	"strings"
)

// Request is the signup payload.
type Request struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"fullName"`
	CompanyName string `json:"companyName"`
}

// Result is returned when every step succeeded.
type Result struct {
	UserID string `json:"userId"`
}

func (r Request) normalized() Request {
	r.Email = strings.TrimSpace(r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	return r
}

// Validate checks the fields the identity service would otherwise reject
// with a less helpful message. Password strength is left to the service.
func (r Request) Validate() error {
	r = r.normalized()
	if r.Email == "" || r.Password == "" {
		return validationError("Email and password are required")
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return validationError("Invalid email address")
	}
	return nil
}

// Kind classifies a signup failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindUpstream   Kind = "upstream"
	KindUnexpected Kind = "unexpected"
)

// Error is a signup failure as the caller sees it.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Status: http.StatusBadRequest}
}
