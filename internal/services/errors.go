package services

import (
	"errors"
	"fmt"

	"tableside/server/internal/auth"
	"tableside/server/internal/store"
)

// Kind вид ошибки; HTTP слой выбирает код ответа по нему
type Kind string

const (
	// нарушены предусловия, исправляет вызывающий
	KindTableUnavailable  Kind = "TableUnavailable"
	KindTableOccupied     Kind = "TableOccupied"
	KindOrderClosed       Kind = "OrderClosed"
	KindOrderNotServable  Kind = "OrderNotServable"
	KindEmptyOrder        Kind = "EmptyOrder"
	KindIllegalTransition Kind = "IllegalTransition"
	KindAlreadyPaid       Kind = "AlreadyPaid"

	// нарушены инварианты счета, операция отклонена целиком
	KindSplitMismatch          Kind = "SplitMismatch"
	KindDiscountExceedsTotal   Kind = "DiscountExceedsTotal"
	KindInsufficientPayment    Kind = "InsufficientPayment"
	KindCreditRequiresCustomer Kind = "CreditRequiresCustomer"

	KindUnknownOrder      Kind = "UnknownOrder"
	KindUnknownTable      Kind = "UnknownTable"
	KindUnknownTicket     Kind = "UnknownTicket"
	KindUnknownTicketItem Kind = "UnknownTicketItem"
	KindUnknownBill       Kind = "UnknownBill"
	KindUnknownMenuItem   Kind = "UnknownMenuItem"
	KindUnknownCustomer   Kind = "UnknownCustomer"

	KindConflict   Kind = "Conflict"
	KindForbidden  Kind = "Forbidden"
	KindValidation Kind = "Validation"
)

// Error структурированная ошибка команды
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает по виду, чтобы errors.Is(err, ErrEmptyOrder) работал для любого сообщения
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrTableUnavailable       = &Error{Kind: KindTableUnavailable}
	ErrTableOccupied          = &Error{Kind: KindTableOccupied}
	ErrOrderClosed            = &Error{Kind: KindOrderClosed}
	ErrOrderNotServable       = &Error{Kind: KindOrderNotServable}
	ErrEmptyOrder             = &Error{Kind: KindEmptyOrder}
	ErrIllegalTransition      = &Error{Kind: KindIllegalTransition}
	ErrAlreadyPaid            = &Error{Kind: KindAlreadyPaid}
	ErrSplitMismatch          = &Error{Kind: KindSplitMismatch}
	ErrDiscountExceedsTotal   = &Error{Kind: KindDiscountExceedsTotal}
	ErrInsufficientPayment    = &Error{Kind: KindInsufficientPayment}
	ErrCreditRequiresCustomer = &Error{Kind: KindCreditRequiresCustomer}
	ErrUnknownOrder           = &Error{Kind: KindUnknownOrder}
	ErrUnknownTable           = &Error{Kind: KindUnknownTable}
	ErrUnknownTicket          = &Error{Kind: KindUnknownTicket}
	ErrUnknownTicketItem      = &Error{Kind: KindUnknownTicketItem}
	ErrUnknownBill            = &Error{Kind: KindUnknownBill}
	ErrUnknownMenuItem        = &Error{Kind: KindUnknownMenuItem}
	ErrUnknownCustomer        = &Error{Kind: KindUnknownCustomer}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrValidation             = &Error{Kind: KindValidation}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf вид ошибки или "" для внутренних ошибок
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message человекочитаемая причина
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// lookupErr переводит ошибку чтения из store: ErrNotFound -> notFound
func lookupErr(err error, notFound Kind, what, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(notFound, "%s %s not found", what, id)
	}
	return storeErr(err)
}

// storeErr переводит ошибки хранилища в виды команд
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrConflict):
		return &Error{Kind: KindConflict, Message: "record was modified concurrently, reload and retry", Err: err}
	case errors.Is(err, store.ErrDuplicate):
		return &Error{Kind: KindConflict, Message: "record already exists", Err: err}
	}
	return err
}

func authorize(actor auth.Actor, cmd auth.Command) error {
	if err := auth.Authorize(actor, cmd); err != nil {
		return &Error{Kind: KindForbidden, Message: err.Error(), Err: err}
	}
	return nil
}

// checkVersion ожидаемая версия 0 означает "не проверять"
func checkVersion(expected, actual int64, what string) error {
	if expected > 0 && expected != actual {
		return newError(KindConflict, "%s version is %d, expected %d", what, actual, expected)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
