package canbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouter_FilteringAndCancel(t *testing.T) {
	r := NewRouter()

	var gotA, gotB, gotAll []uint32
	cancelA := r.Handle(ByID(0x100), func(f Frame) { gotA = append(gotA, f.ID) })
	cancelB := r.Handle(ByRange(0x200, 0x2FF), func(f Frame) { gotB = append(gotB, f.ID) })
	defer cancelB()
	r.Handle(nil, func(f Frame) { gotAll = append(gotAll, f.ID) })
	assert.Equal(t, 3, r.Len())

	assert.Equal(t, 2, r.Dispatch(MustFrame(0x100, nil)))
	assert.Equal(t, 2, r.Dispatch(MustFrame(0x210, nil)))
	assert.Equal(t, 1, r.Dispatch(MustFrame(0x105, nil)))

	assert.Equal(t, []uint32{0x100}, gotA)
	assert.Equal(t, []uint32{0x210}, gotB)
	assert.Equal(t, []uint32{0x100, 0x210, 0x105}, gotAll)

	cancelA()
	cancelA()
	assert.Equal(t, 2, r.Len())
	r.Dispatch(MustFrame(0x100, nil))
	assert.Equal(t, []uint32{0x100}, gotA)

	assert.Equal(t, 2, r.Len())
	noop := r.Handle(ByID(1), nil)
	noop()
	assert.Equal(t, 2, r.Len())
}

func TestRouter_HandlerCancelsItself(t *testing.T) {
	r := NewRouter()
	calls := 0
	var cancel func()
	cancel = r.Handle(nil, func(Frame) {
		calls++
		cancel()
	})
	r.Dispatch(MustFrame(1, nil))
	r.Dispatch(MustFrame(1, nil))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, r.Len())
}
