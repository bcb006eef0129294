package tenancy

import "context"

type handleKey struct{}

// WithTenantHandle scopes ctx to one tenant.
func WithTenantHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, handleKey{}, handle)
}

// TenantHandleFromContext returns the scoped handle. Values that are not
// well-formed handles are reported as absent.
func TenantHandleFromContext(ctx context.Context) (string, bool) {
	handle, _ := ctx.Value(handleKey{}).(string)
	if !ValidHandle(handle) {
		return "", false
	}
	return handle, true
}
