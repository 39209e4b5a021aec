package access

import "errors"

var ErrForbidden = errors.New("access: forbidden")

// Role is the tagged variant checked once at the entry of each operation,
// instead of ad-hoc role probing inside business logic.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
	// RoleSystem marks scheduled jobs (auto-cancel, auto-deliver sweeps).
	RoleSystem Role = "system"
)

type Actor struct {
	ID   string
	Role Role
}

func (a Actor) CanCheckout() bool {
	return a.Role == RoleBuyer
}

func (a Actor) CanPay(buyerID string) bool {
	switch a.Role {
	case RoleBuyer:
		return a.ID == buyerID
	case RoleAdmin, RoleSystem:
		return true
	}
	return false
}

func (a Actor) CanCancel(buyerID string) bool {
	switch a.Role {
	case RoleBuyer:
		return a.ID == buyerID
	case RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// CanFulfill allows a participating seller, or an admin, to move the order
// through fulfillment.
func (a Actor) CanFulfill(sellerIDs []string) bool {
	switch a.Role {
	case RoleSeller:
		for _, id := range sellerIDs {
			if id == a.ID {
				return true
			}
		}
		return false
	case RoleAdmin:
		return true
	}
	return false
}

func (a Actor) CanConfirmDelivery(buyerID string) bool {
	switch a.Role {
	case RoleBuyer:
		return a.ID == buyerID
	case RoleAdmin, RoleSystem:
		return true
	}
	return false
}

func (a Actor) CanRefund() bool {
	return a.Role == RoleAdmin
}

func (a Actor) CanViewOrder(buyerID string, sellerIDs []string) bool {
	switch a.Role {
	case RoleBuyer:
		return a.ID == buyerID
	case RoleSeller:
		for _, id := range sellerIDs {
			if id == a.ID {
				return true
			}
		}
		return false
	case RoleAdmin, RoleSystem:
		return true
	}
	return false
}
