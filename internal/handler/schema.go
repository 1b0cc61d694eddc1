package handler

import (
	"strconv"

	"github.com/ogen-go/ogen/validate"

	"github.com/xenking/fulfillment/internal/domain/apperr"
)

// Request body constraints from api/openapi.yaml. Checks the domain already
// performs with its own error codes (required ids, line counts, quantities, instructions, enums) are
// left to the domain.
//
// TODO: generate gen/oas from api/openapi.yaml with ogen and serve the
// generated router, dropping these hand-kept schemas.
var (
	idSchema            = validate.String{MaxLength: 64, MaxLengthSet: true}
	couponCodeSchema    = validate.String{MaxLength: 32, MaxLengthSet: true}
	variantSchema       = validate.String{MaxLength: 64, MaxLengthSet: true}
	noteSchema          = validate.String{MaxLength: 500, MaxLengthSet: true}
	vehicleNumberSchema = validate.String{MaxLength: 20, MaxLengthSet: true}
	addonsSchema        = validate.Array{MaxLength: 10, MaxLengthSet: true}
)

func schemaError(field string, err error) error {
	return apperr.Validation("request.invalid", field, err.Error())
}

type fieldCheck struct {
	field string
	err   error
}

func firstViolation(checks ...fieldCheck) error {
	for _, c := range checks {
		if c.err != nil {
			return schemaError(c.field, c.err)
		}
	}
	return nil
}

func (r placeOrderRequest) validate() error {
	if err := firstViolation(
		fieldCheck{"restaurantId", idSchema.Validate(r.RestaurantID)},
		fieldCheck{"addressId", idSchema.Validate(r.AddressID)},
		fieldCheck{"couponCode", couponCodeSchema.Validate(r.CouponCode)},
	); err != nil {
		return err
	}
	for i, l := range r.Items {
		prefix := "items[" + strconv.Itoa(i) + "]."
		if err := firstViolation(
			fieldCheck{prefix + "itemId", idSchema.Validate(l.ItemID)},
			fieldCheck{prefix + "variant", variantSchema.Validate(l.Variant)},
			fieldCheck{prefix + "addons", addonsSchema.ValidateLength(len(l.Addons))},
		); err != nil {
			return err
		}
	}
	return nil
}

func (r statusRequest) validate() error {
	return firstViolation(fieldCheck{"note", noteSchema.Validate(r.Note)})
}

func (r registerRequest) validate() error {
	return firstViolation(fieldCheck{"vehicleNumber", vehicleNumberSchema.Validate(r.VehicleNumber)})
}

func (r validateCouponRequest) validate() error {
	return firstViolation(
		fieldCheck{"code", couponCodeSchema.Validate(r.Code)},
		fieldCheck{"restaurantId", idSchema.Validate(r.RestaurantID)},
	)
}
