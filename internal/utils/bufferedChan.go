package utils

// BufferedChan is a channel that has a dynamic buffer size.
//
// Sends on the inlet never block for longer than it takes the buffering goroutine to append the value, which makes it suitable as the hand-off between a producer that must stay responsive and a slower consumer.
type BufferedChan[T any] struct {
	inChan  chan T
	outChan chan T
}

// NewBufferedChan creates a new BufferedChan instance.
func NewBufferedChan[T any]() *BufferedChan[T] {
	c := BufferedChan[T]{
		inChan:  make(chan T),
		outChan: make(chan T),
	}
	go c.run()
	return &c
}

// Inlet returns an input channel for the BufferedChan.
func (b *BufferedChan[T]) Inlet() chan<- T {
	return b.inChan
}

// Outlet returns an output channel for the BufferedChan. It is closed once the inlet is closed and the buffer drained.
func (b *BufferedChan[T]) Outlet() <-chan T {
	return b.outChan
}

// Close closes the inlet of the BufferedChan.
func (b *BufferedChan[T]) Close() {
	close(b.inChan)
}

func (b *BufferedChan[T]) run() {
	buffer := make([]T, 0)
	defer close(b.outChan)

	in := b.inChan
	for in != nil || len(buffer) > 0 {
		if len(buffer) == 0 {
			msg, ok := <-in
			if !ok {
				return
			}
			buffer = append(buffer, msg)
			continue
		}

		select {
		case msg, ok := <-in:
			if !ok {
				// Inlet closed: drain what is left.
				in = nil
				continue
			}
			buffer = append(buffer, msg)
		case b.outChan <- buffer[0]:
			buffer = buffer[1:]
		}
	}
}
