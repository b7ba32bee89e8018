package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindBadRequest   ErrorKind = "bad_request"
	KindForbidden    ErrorKind = "forbidden"
	KindUnauthorized ErrorKind = "unauthorized"
)

// Error is a failure the caller can act on. IDs lists the offending
// identifiers (missing products, unavailable products, ...) when there are any.
type Error struct {
	Kind    ErrorKind
	Message string
	IDs     []int64
}

func (e *Error) Error() string {
	return e.Message
}

func NotFound(msg string, ids ...int64) *Error {
	return &Error{Kind: KindNotFound, Message: msg, IDs: ids}
}

func BadRequest(msg string, ids ...int64) *Error {
	return &Error{Kind: KindBadRequest, Message: msg, IDs: ids}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// IsKind reports whether err wraps a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}

func MissingProducts(ids []int64) *Error {
	return NotFound("Missing products: "+joinIDs(ids), ids...)
}

func UnavailableProducts(products []Product) *Error {
	names := make([]string, len(products))
	ids := make([]int64, len(products))
	for i, p := range products {
		names[i] = p.Label()
		ids[i] = p.ID
	}
	return BadRequest("Unavailable products: "+strings.Join(names, ", "), ids...)
}

func InsufficientStock(productID int64, requested, available int) *Error {
	return BadRequest(
		fmt.Sprintf("Insufficient stock for product ID %d: requested %d, available %d", productID, requested, available),
		productID,
	)
}

var ErrOrderNotFound = NotFound("Order not found")
