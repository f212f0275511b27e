package audio

import "context"

// Permission asks the platform for microphone access. Request may block for
// as long as the user takes to answer.
type Permission interface {
	Request(ctx context.Context) (bool, error)
}

// PermissionFunc adapts a plain function to Permission.
type PermissionFunc func(ctx context.Context) (bool, error)

func (f PermissionFunc) Request(ctx context.Context) (bool, error) { return f(ctx) }

// AlwaysGranted is used on desktop platforms where the sound server enforces
// access itself and failures surface as ErrDeviceUnavailable on start.
var AlwaysGranted Permission = PermissionFunc(func(context.Context) (bool, error) {
	return true, nil
})
