// Package execution runs a unit of work inside a tenant scope.
//
// A Runner takes a Request through a fixed sequence:
//
//	Created -> TenantResolved -> Authorized -> Executing -> Committed
//
// Any step may move the run to Failed instead. The tenant is resolved first
// and must be serviceable, the user's grant must allow the operation, and
// only then is a Binding placed in the context handed to the work function.
// The binding is released on every exit path, including errors, panics and
// cancellation, before the outcome is returned to the caller.
//
// Work reads the ambient tenant with TenantID or FromContext. A released
// binding reports no tenant, so a goroutine that outlives its run cannot act
// for that tenant by holding on to the context.
//
//	err := runner.Run(ctx, execution.Request{
//		TenantID:  "acme",
//		UserID:    "u-42",
//		Operation: "create",
//		Resource:  "policies",
//	}, func(ctx context.Context) error {
//		return createPolicy(ctx, execution.TenantID(ctx))
//	})
package execution
