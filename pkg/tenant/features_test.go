package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveFeatures_ProfessionalWithCampaigns(t *testing.T) {
	f := ResolveFeatures(PlanProfessional, []string{"campaigns"})

	assert.Equal(t, []string{"advanced_reporting", "api_access", "campaigns", "policy_management", "user_management"}, f.Enabled)
	assert.Equal(t, PlanProfessional, f.Plan)
	assert.Equal(t, []string{"campaigns"}, f.Overrides)
}

func TestResolveFeatures_Overrides(t *testing.T) {
	tests := []struct {
		name     string
		plan     Plan
		override any
		want     []string
	}{
		{"no override", PlanBasic, nil, []string{"basic_reporting", "policy_management", "user_management"}},
		{"unknown plan falls back to basic", "platinum", nil, []string{"basic_reporting", "policy_management", "user_management"}},
		{"empty plan falls back to basic", "", []any{"white_label"}, []string{"basic_reporting", "policy_management", "user_management", "white_label"}},
		{"json array string", PlanBasic, `["campaigns","campaigns"]`, []string{"basic_reporting", "campaigns", "policy_management", "user_management"}},
		{"comma string", PlanBasic, "campaigns, api_access,", []string{"api_access", "basic_reporting", "campaigns", "policy_management", "user_management"}},
		{"malformed json ignored", PlanBasic, `["campaigns"`, []string{"basic_reporting", "policy_management", "user_management"}},
		{"unsupported type ignored", PlanBasic, 42, []string{"basic_reporting", "policy_management", "user_management"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveFeatures(tt.plan, tt.override).Enabled)
		})
	}
}

func TestResolveFeatures_Enterprise(t *testing.T) {
	f := ResolveFeatures(PlanEnterprise, nil)
	assert.Len(t, f.Enabled, 7)
	assert.Contains(t, f.Enabled, "white_label")
	assert.Contains(t, f.Enabled, "custom_integrations")
	assert.Nil(t, f.Overrides)
}

func TestPlanFeatures_ReturnsCopy(t *testing.T) {
	a := PlanFeatures(PlanBasic)
	a[0] = "mutated"
	assert.NotEqual(t, "mutated", PlanFeatures(PlanBasic)[0])
}
