package livelink

// Producer kinds.
const (
	KindAudio  = "audio"
	KindScreen = "screen"
)

// Handle is the live view of one capture pipeline. Active reads current
// producer state, never a cached flag: lifecycle-critical checks must
// consult the owning object, not copies captured at subscription time.
type Handle interface {
	Kind() string
	Active() bool
	Stop() error
}

// mediaSender is the slice of Session that producers depend on.
type mediaSender interface {
	State() ConnState
	SendMedia(mimeType string, data []byte) error
}

// stopNotifier is implemented by producers that report stop transitions,
// including out-of-band device revocation.
type stopNotifier interface {
	OnStop(fn func(external bool))
}
