package progress

import "context"

// Sink consumes batches of story events. Implementations must honor ctx
// deadlines and tolerate repeated calls. Batches preserve emit order.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Coordinators depend on this rather
// than on Hub so tests can record events synchronously.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) { f(evt) }

// Tee fans a single event out to several emitters in order. Nil entries are
// skipped.
func Tee(emitters ...Emitter) Emitter {
	return EmitterFunc(func(evt Event) {
		for _, e := range emitters {
			if e != nil {
				e.Emit(evt)
			}
		}
	})
}
