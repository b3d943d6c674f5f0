package rbac

// Evaluate reports whether grant allows operation on resource
func Evaluate(grant *Grant, operation, resource string) bool {
	allowed, _ := EvaluateWithSource(grant, operation, resource)
	return allowed
}

// EvaluateWithSource is Evaluate that also reports which rule decided
func EvaluateWithSource(grant *Grant, operation, resource string) (bool, Source) {
	if grant == nil {
		return false, SourceNone
	}
	if !grant.Active {
		return false, SourceInactive
	}

	want := Permission(operation, resource)

	if len(grant.Permissions) > 0 {
		for _, p := range grant.Permissions {
			if p == want || p == Wildcard {
				return true, SourceExplicit
			}
		}
		return false, SourceExplicit
	}

	set := roleSets[grant.Role]
	if _, ok := set[Wildcard]; ok {
		return true, SourceRole
	}
	_, ok := set[want]
	return ok, SourceRole
}
