package tenant

import (
	"encoding/json"
	"sort"
	"strings"
)

// FeatureOverrideKey is the config key holding per-tenant feature overrides
const FeatureOverrideKey = "enabled_features"

var planFeatures = map[Plan][]string{
	PlanBasic: {
		"user_management", "policy_management", "basic_reporting",
	},
	PlanProfessional: {
		"user_management", "policy_management", "advanced_reporting", "campaigns", "api_access",
	},
	PlanEnterprise: {
		"user_management", "policy_management", "advanced_reporting", "campaigns", "api_access",
		"white_label", "custom_integrations",
	},
}

// Features is the resolved feature set together with its inputs
type Features struct {
	Enabled   []string `json:"enabled"`
	Plan      Plan     `json:"plan"`
	Overrides []string `json:"overrides,omitempty"`
}

// PlanFeatures returns a copy of the base feature list of plan
func PlanFeatures(plan Plan) []string {
	return append([]string(nil), planFeatures[plan.Normalize()]...)
}

// ResolveFeatures unions the plan's base features with the override value
// (a string list, a JSON array string or a comma separated string).
func ResolveFeatures(plan Plan, override any) Features {
	plan = plan.Normalize()
	overrides := parseFeatureList(override)

	seen := make(map[string]struct{})
	var enabled []string
	for _, f := range append(PlanFeatures(plan), overrides...) {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		enabled = append(enabled, f)
	}
	sort.Strings(enabled)

	return Features{Enabled: enabled, Plan: plan, Overrides: overrides}
}

func parseFeatureList(v any) []string {
	var raw []string
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		raw = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		s := strings.TrimSpace(val)
		if strings.HasPrefix(s, "[") {
			if err := json.Unmarshal([]byte(s), &raw); err != nil {
				return nil
			}
		} else {
			raw = strings.Split(s, ",")
		}
	default:
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
