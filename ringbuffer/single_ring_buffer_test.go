package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutPopPreservesFIFOOrder(t *testing.T) {
	rb := NewSingleRingBuffer(4, 16)
	rb.Put("a")
	rb.Put("b")
	rb.Put("c")

	assert.Equal(t, "a", rb.Pop())
	assert.Equal(t, "b", rb.Pop())
	assert.Equal(t, "c", rb.Pop())
	assert.Nil(t, rb.Pop())
}

func TestPopOnEmptyBufferReturnsNil(t *testing.T) {
	rb := NewSingleRingBuffer(4, 16)
	assert.Nil(t, rb.Pop())
}

func TestPopOnNilReceiverReturnsNil(t *testing.T) {
	var rb *SingleRingBuffer
	assert.Nil(t, rb.Pop())
}

func TestSizeTracksPendingItems(t *testing.T) {
	rb := NewSingleRingBuffer(4, 16)
	assert.Equal(t, 0, rb.Size())
	rb.Put(1)
	rb.Put(2)
	assert.Equal(t, 2, rb.Size())
	rb.Pop()
	assert.Equal(t, 1, rb.Size())
}

func TestPutExpandsPastInitialCapacity(t *testing.T) {
	rb := NewSingleRingBuffer(2, 16)
	for i := 0; i < 10; i++ {
		rb.Put(i)
	}
	assert.Equal(t, 10, rb.Size())
	for i := 0; i < 10; i++ {
		assert.Equal(t, i, rb.Pop())
	}
}

func TestNewSingleRingBufferRejectsNonPowerOfTwo(t *testing.T) {
	assert.Nil(t, NewSingleRingBuffer(3, 16))
	assert.Nil(t, NewSingleRingBuffer(4, 15))
}

func TestNarrowsBackToMaxCapAfterExpansionDrains(t *testing.T) {
	rb := NewSingleRingBuffer(2, 4)
	for i := 0; i < 20; i++ {
		rb.Put(i)
	}
	for i := 0; i < 20; i++ {
		rb.Pop()
	}
	assert.Equal(t, 0, rb.Size())
	assert.Equal(t, 4, rb.cap)
}
