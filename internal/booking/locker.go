package booking

import "context"

// Locker serializes writers on one hot key (per event id, per user id) while
// leaving unrelated keys fully concurrent. Lock blocks until the key is held
// or ctx is done; the returned func releases the key.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
