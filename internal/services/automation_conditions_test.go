package services

import (
	"testing"

	"hndld/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestMatchConditions(t *testing.T) {
	tests := []struct {
		name  string
		conds *models.AutomationConditions
		data  map[string]interface{}
		want  bool
	}{
		{"nil conditions", nil, map[string]interface{}{"anything": 1}, true},
		{"nil conditions nil data", nil, nil, true},
		{"empty conditions", &models.AutomationConditions{}, nil, true},

		{"user in list", &models.AutomationConditions{UserIDs: []string{"u1", "u2"}},
			map[string]interface{}{"userId": "u2"}, true},
		{"user not in list", &models.AutomationConditions{UserIDs: []string{"u1"}},
			map[string]interface{}{"userId": "u3"}, false},
		{"user missing", &models.AutomationConditions{UserIDs: []string{"u1"}},
			map[string]interface{}{}, false},
		{"numeric user id", &models.AutomationConditions{UserIDs: []string{"42"}},
			map[string]interface{}{"userId": 42}, true},
		{"empty user list matches nothing", &models.AutomationConditions{UserIDs: []string{}},
			map[string]interface{}{"userId": "u1"}, false},

		{"vendor in list", &models.AutomationConditions{VendorIDs: []string{"v1"}},
			map[string]interface{}{"vendorId": "v1"}, true},
		{"vendor not in list", &models.AutomationConditions{VendorIDs: []string{"v1"}},
			map[string]interface{}{"vendorId": "v2"}, false},

		{"category member", &models.AutomationConditions{TaskCategories: []string{"cleaning"}},
			map[string]interface{}{"category": "cleaning"}, true},
		{"category non member", &models.AutomationConditions{TaskCategories: []string{"cleaning"}},
			map[string]interface{}{"category": "garden"}, false},
		{"category absent passes", &models.AutomationConditions{TaskCategories: []string{"cleaning"}},
			map[string]interface{}{}, true},
		{"category null passes", &models.AutomationConditions{TaskCategories: []string{"cleaning"}},
			map[string]interface{}{"category": nil}, true},

		{"min inclusive", &models.AutomationConditions{MinAmount: floatPtr(100)},
			map[string]interface{}{"amount": 100}, true},
		{"below min", &models.AutomationConditions{MinAmount: floatPtr(100)},
			map[string]interface{}{"amount": 50}, false},
		{"max inclusive", &models.AutomationConditions{MaxAmount: floatPtr(100)},
			map[string]interface{}{"amount": 100.0}, true},
		{"above max", &models.AutomationConditions{MaxAmount: floatPtr(100)},
			map[string]interface{}{"amount": 100.01}, false},
		{"string amount", &models.AutomationConditions{MinAmount: floatPtr(10)},
			map[string]interface{}{"amount": "12.5"}, true},
		{"amount absent imposes nothing", &models.AutomationConditions{MinAmount: floatPtr(100)},
			map[string]interface{}{}, true},
		{"non numeric amount imposes nothing", &models.AutomationConditions{MinAmount: floatPtr(100)},
			map[string]interface{}{"amount": "lots"}, true},
		{"zero min is a bound", &models.AutomationConditions{MinAmount: floatPtr(0)},
			map[string]interface{}{"amount": -1}, false},

		{"all predicates pass",
			&models.AutomationConditions{UserIDs: []string{"u1"}, VendorIDs: []string{"v1"}, MinAmount: floatPtr(1), MaxAmount: floatPtr(10)},
			map[string]interface{}{"userId": "u1", "vendorId": "v1", "amount": 5}, true},
		{"one predicate fails",
			&models.AutomationConditions{UserIDs: []string{"u1"}, VendorIDs: []string{"v1"}},
			map[string]interface{}{"userId": "u1", "vendorId": "v9"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchConditions(tt.conds, tt.data))
		})
	}
}

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]interface{}
		want     string
	}{
		{"no tokens", "plain text", map[string]interface{}{"a": 1}, "plain text"},
		{"empty template", "", map[string]interface{}{"a": 1}, ""},
		{"single", "Overdue Task: {{taskTitle}}", map[string]interface{}{"taskTitle": "Pay invoice"}, "Overdue Task: Pay invoice"},
		{"repeated", "{{a}}-{{a}}", map[string]interface{}{"a": "x"}, "x-x"},
		{"number", "Amount {{amount}}", map[string]interface{}{"amount": 12.5}, "Amount 12.5"},
		{"missing keeps token", "Hi {{name}}", map[string]interface{}{"other": 1}, "Hi {{name}}"},
		{"null keeps token", "Hi {{name}}", map[string]interface{}{"name": nil}, "Hi {{name}}"},
		{"nil data", "Hi {{name}}", nil, "Hi {{name}}"},
		{"spaces inside braces", "Hi {{ name }}", map[string]interface{}{"name": "Ana"}, "Hi Ana"},
		{"no rescan", "{{a}}", map[string]interface{}{"a": "{{b}}", "b": "nested"}, "{{b}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.template, tt.data))
		})
	}
}

func TestInterpolate_Idempotent(t *testing.T) {
	data := map[string]interface{}{"taskTitle": "Pay invoice", "amount": 20}
	templates := []string{
		"no tokens at all",
		"{{taskTitle}} costs {{amount}}",
		"{{missing}} stays",
	}
	for _, tpl := range templates {
		once := Interpolate(tpl, data)
		assert.Equal(t, once, Interpolate(once, data), tpl)
	}
}
