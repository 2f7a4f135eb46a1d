package services

import (
	"hndld/internal/models"

	"github.com/spf13/cast"
)

// MatchConditions reports whether event data satisfies an automation's condition set.
// A nil set always matches; configured predicates are AND-ed and the first failure wins.
func MatchConditions(conds *models.AutomationConditions, data map[string]interface{}) bool {
	if conds == nil {
		return true
	}

	if conds.UserIDs != nil && !containsValue(conds.UserIDs, data["userId"]) {
		return false
	}
	if conds.VendorIDs != nil && !containsValue(conds.VendorIDs, data["vendorId"]) {
		return false
	}
	if conds.TaskCategories != nil {
		if category, ok := data["category"]; ok && category != nil && !containsValue(conds.TaskCategories, category) {
			return false
		}
	}

	if conds.MinAmount != nil || conds.MaxAmount != nil {
		amount, ok := numericField(data, "amount")
		if ok {
			if conds.MinAmount != nil && amount < *conds.MinAmount {
				return false
			}
			if conds.MaxAmount != nil && amount > *conds.MaxAmount {
				return false
			}
		}
	}
	return true
}

// containsValue compares by string form so "42" and 42 are the same id.
func containsValue(list []string, v interface{}) bool {
	if v == nil {
		return false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return false
	}
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func numericField(data map[string]interface{}, key string) (float64, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}
