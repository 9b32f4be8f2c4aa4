package progress

// Fields carries extra values shown next to the count, e.g. "speed".
type Fields map[string]string

const FieldSpeed = "speed"

type Aggregator interface {
	Start(total int, fields Fields)
	Update(completed int, fields Fields)
}

type Nop struct{}

func (Nop) Start(int, Fields)  {}
func (Nop) Update(int, Fields) {}

// Finisher is implemented by aggregators that hold a terminal line open.
type Finisher interface {
	Finish() error
}

// Finish flushes a if it supports it.
func Finish(a Aggregator) error {
	if f, ok := a.(Finisher); ok {
		return f.Finish()
	}
	return nil
}
