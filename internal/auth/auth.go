// Package auth проверяет, какие команды разрешены роли.
// Проверка вызывается самими сервисами, а не только HTTP слоем.
package auth

import (
	"errors"
	"fmt"
)

// Role роль сотрудника, приходит от внешнего провайдера идентификации
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCashier Role = "cashier"
	RoleWaiter  Role = "waiter"
	RoleKitchen Role = "kitchen"
)

func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

// Command команда, которую можно выполнить над заказом, столом, тикетом или счетом
type Command string

const (
	CmdManageTables    Command = "tables.manage"
	CmdCreateOrder     Command = "order.create"
	CmdAppendItems     Command = "order.append_items"
	CmdAdvanceOrder    Command = "order.advance"
	CmdCloseOrder      Command = "order.close" // served -> completed без оплаты через кассу
	CmdCancelOrder     Command = "order.cancel"
	CmdTransferOrder   Command = "order.transfer"
	CmdStartTicket     Command = "ticket.start"
	CmdMarkItemReady   Command = "ticket.mark_ready"
	CmdComputeBill     Command = "bill.compute"
	CmdSettleBill      Command = "bill.settle"
	CmdManageCustomers Command = "customers.manage"
)

var ErrForbidden = errors.New("forbidden")

// Actor кто выполняет команду
type Actor struct {
	ID   string
	Role Role
}

// System актор для фоновых задач
var System = Actor{ID: "system", Role: RoleAdmin}

// capabilities роль -> разрешенные команды; admin может все
var capabilities = map[Role]map[Command]bool{
	RoleAdmin: nil,
	RoleWaiter: set(CmdCreateOrder, CmdAppendItems, CmdAdvanceOrder, CmdCloseOrder, CmdCancelOrder,
		CmdTransferOrder, CmdComputeBill),
	RoleCashier: set(CmdComputeBill, CmdSettleBill, CmdCloseOrder, CmdManageCustomers),
	RoleKitchen: set(CmdStartTicket, CmdMarkItemReady),
}

func set(cmds ...Command) map[Command]bool {
	m := make(map[Command]bool, len(cmds))
	for _, c := range cmds {
		m[c] = true
	}
	return m
}

// Can разрешена ли команда роли
func Can(role Role, cmd Command) bool {
	allowed, ok := capabilities[role]
	if !ok {
		return false
	}
	if role == RoleAdmin {
		return true
	}
	return allowed[cmd]
}

// Authorize возвращает ErrForbidden, если актор не может выполнить команду
func Authorize(actor Actor, cmd Command) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: anonymous actor", ErrForbidden)
	}
	if !Can(actor.Role, cmd) {
		return fmt.Errorf("%w: role %q cannot %s", ErrForbidden, actor.Role, cmd)
	}
	return nil
}
