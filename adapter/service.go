package adapter

// Service is a long-lived component with an explicit lifecycle. Start is
// called once after construction; Close releases its resources and may be
// called at most once.
type Service interface {
	Start() error
	Close() error
}
