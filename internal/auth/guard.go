// Package auth решает, может ли principal выполнить операцию над заказом или корзиной,
// и извлекает principal из bearer-токена.
package auth

import (
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Operation — операция над заказом, которую проверяет guard.
type Operation string

const (
	OpRead    Operation = "read"
	OpPay     Operation = "pay"
	OpDeliver Operation = "deliver"
	OpDelete  Operation = "delete"
	OpListAll Operation = "list-all"
)

// CanAccess — чистая функция решения о доступе principal к заказу.
func CanAccess(principal *domain.Principal, order domain.Order, op Operation) bool {
	if principal == nil || principal.ID == "" {
		return false
	}

	switch op {
	case OpRead, OpPay:
		return principal.ID == order.OwnerID || principal.IsAdmin()
	case OpDeliver, OpDelete, OpListAll:
		return principal.IsAdmin()
	default:
		return false
	}
}

// Authorize возвращает ErrUnauthorized для анонимного запроса и ErrForbidden,
// если у principal нет прав на операцию.
func Authorize(principal *domain.Principal, order domain.Order, op Operation) error {
	if principal == nil || principal.ID == "" {
		return domain.ErrUnauthorized
	}
	if !CanAccess(principal, order, op) {
		return domain.ErrForbidden
	}
	return nil
}

// AuthorizeAdmin проверяет операции без конкретного заказа (например, list-all).
func AuthorizeAdmin(principal *domain.Principal, op Operation) error {
	return Authorize(principal, domain.Order{}, op)
}

// AuthorizeCart разрешает операции с корзиной только её владельцу.
// Администратор чужие корзины не видит.
func AuthorizeCart(principal *domain.Principal, ownerID string) error {
	if principal == nil || principal.ID == "" {
		return domain.ErrUnauthorized
	}
	if principal.ID != ownerID {
		return domain.ErrForbidden
	}
	return nil
}

// RequirePrincipal отсекает анонимные запросы до любой мутации.
func RequirePrincipal(principal *domain.Principal) error {
	if principal == nil || principal.ID == "" {
		return domain.ErrUnauthorized
	}
	return nil
}
