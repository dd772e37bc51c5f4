package core

import "fmt"

// Buffer is a byte region with a fixed capacity and a used size. Pipeline
// stages pass *Buffer through channels and never touch a buffer after
// handing it on.
type Buffer struct {
	data []byte
	size int
}

// NewBuffer allocates a buffer with the given capacity and size zero.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) Capacity() int { return len(b.data) }
func (b *Buffer) Size() int     { return b.size }

// SetSize marks the first n bytes of Storage as used.
func (b *Buffer) SetSize(n int) {
	if n < 0 || n > len(b.data) {
		panic(fmt.Sprintf("core: buffer size %d out of range [0, %d]", n, len(b.data)))
	}
	b.size = n
}

// Bytes returns the used part of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// Storage returns the whole region, for filling with Read.
func (b *Buffer) Storage() []byte { return b.data }

func (b *Buffer) Reset() { b.size = 0 }

// BufferReader and BufferWriter are the ends of a channel of buffers.
type (
	BufferReader = Reader[*Buffer]
	BufferWriter = Writer[*Buffer]
)

// MakeBufferChannel is MakeChannel for buffers.
func MakeBufferChannel(capacity int, name string) (*BufferReader, *BufferWriter) {
	return MakeChannel[*Buffer](capacity, name)
}
