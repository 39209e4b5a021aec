package order

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAddress = errors.New("order: invalid address")

// Address is the validated billing/shipping snapshot stored on the order.
// It replaces the free-form JSON blob the storefront carries around, so writer
// and reader cannot drift apart on its shape.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Validate() error {
	missing := make([]string, 0, 5)
	if strings.TrimSpace(a.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(a.Line1) == "" {
		missing = append(missing, "line1")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postal_code")
	}
	if len(a.Country) != 2 {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	return nil
}
