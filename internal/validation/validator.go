package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for CreateOrderRequest so an order
	// cannot reference the same reservation twice.
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation rejects duplicate reservation ids in one order.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := map[string]struct{}{}
	for _, id := range req.ReservationIDs {
		if _, dup := seen[id]; dup {
			sl.ReportError(req.ReservationIDs, "reservation_ids", "ReservationIDs", "unique_reservations", id)
			return
		}
		seen[id] = struct{}{}
	}
}
