package entity

// Category identifies the kind of business document routed through approval
type Category string

const (
	CategoryPurchaseRequest Category = "purchase_request"
	CategoryPurchaseOrder   Category = "purchase_order"
	CategoryContract        Category = "contract"
	CategoryCapex           Category = "capex"
	CategoryPayment         Category = "payment"
	CategoryFloatCash       Category = "float_cash"
)

var validCategories = map[Category]bool{
	CategoryPurchaseRequest: true,
	CategoryPurchaseOrder:   true,
	CategoryContract:        true,
	CategoryCapex:           true,
	CategoryPayment:         true,
	CategoryFloatCash:       true,
}

// String returns the string representation of the category
func (c Category) String() string {
	return string(c)
}

// IsValid returns true if the category is one of the defined document categories
func (c Category) IsValid() bool {
	return validCategories[c]
}

// OverrideType identifies an exception policy kind
type OverrideType string

const (
	OverrideEmergencyPurchase OverrideType = "emergency_purchase"
	OverrideSingleSource      OverrideType = "single_source"
	OverrideBudgetPreApproved OverrideType = "budget_pre_approved"
	OverrideRepeatOrder       OverrideType = "repeat_order"
)

var validOverrideTypes = map[OverrideType]bool{
	OverrideEmergencyPurchase: true,
	OverrideSingleSource:      true,
	OverrideBudgetPreApproved: true,
	OverrideRepeatOrder:       true,
}

// String returns the string representation of the override type
func (t OverrideType) String() string {
	return string(t)
}

// IsValid returns true if the override type is one of the defined exception policies
func (t OverrideType) IsValid() bool {
	return validOverrideTypes[t]
}
