package domain

import (
	"errors"
	"strings"
	"time"
)

// DeliveryOption: вариант доставки заказа.
type DeliveryOption string

const (
	// DeliveryOnboard: доставка на судно в порту.
	DeliveryOnboard DeliveryOption = "onboard"
	// DeliveryAlternative: доставка по адресу на берегу.
	DeliveryAlternative DeliveryOption = "alternative"
)

// ShippingDateLayout: формат expectedShippingDate.
const ShippingDateLayout = "2006-01-02"

var (
	errFieldRequired   = errors.New("is required")
	errUnknownOption   = errors.New("must be onboard or alternative")
	errInvalidShipDate = errors.New("must be a date in YYYY-MM-DD format")
)

// DeliveryDetails: tagged union: заполнены поля только выбранного варианта.
type DeliveryDetails struct {
	Option DeliveryOption
	// onboard
	PortName             string
	ExpectedShippingDate string
	// alternative
	Address    string
	PostalCode string
}

// Normalize обрезает пробелы и очищает поля невыбранного варианта.
func (d DeliveryDetails) Normalize() DeliveryDetails {
	d.Option = DeliveryOption(strings.ToLower(strings.TrimSpace(string(d.Option))))
	d.PortName = strings.TrimSpace(d.PortName)
	d.ExpectedShippingDate = strings.TrimSpace(d.ExpectedShippingDate)
	d.Address = strings.TrimSpace(d.Address)
	d.PostalCode = strings.TrimSpace(d.PostalCode)
	switch d.Option {
	case DeliveryOnboard:
		d.Address, d.PostalCode = "", ""
	case DeliveryAlternative:
		d.PortName, d.ExpectedShippingDate = "", ""
	}
	return d
}

// Validate проверяет обязательные поля выбранного варианта.
func (d DeliveryDetails) Validate() error {
	verr := &ValidationError{}
	switch d.Option {
	case DeliveryOnboard:
		if d.PortName == "" {
			verr.Add("delivery.port_name", errFieldRequired)
		}
		if d.ExpectedShippingDate == "" {
			verr.Add("delivery.expected_shipping_date", errFieldRequired)
		} else if _, err := time.Parse(ShippingDateLayout, d.ExpectedShippingDate); err != nil {
			verr.Add("delivery.expected_shipping_date", errInvalidShipDate)
		}
	case DeliveryAlternative:
		if d.Address == "" {
			verr.Add("delivery.address", errFieldRequired)
		}
		if d.PostalCode == "" {
			verr.Add("delivery.postal_code", errFieldRequired)
		}
	case "":
		verr.Add("delivery.option", errFieldRequired)
	default:
		verr.Add("delivery.option", errUnknownOption)
	}
	return verr.OrNil()
}

// Complete: короткая форма Validate() == nil.
func (d DeliveryDetails) Complete() bool {
	return d.Validate() == nil
}
