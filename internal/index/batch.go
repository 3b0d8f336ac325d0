package index

import (
	"context"
	"fmt"
)

// Adder is the write half of the index client.
type Adder interface {
	Add(ctx context.Context, core string, docs []Document, commit bool) error
}

// BatchWriter buffers documents and sends them to one core in fixed-size
// batches without committing.
type BatchWriter struct {
	adder   Adder
	core    string
	size    int
	buf     []Document
	flushed int
}

// NewBatchWriter returns a writer sending batches of size docs to core.
func NewBatchWriter(a Adder, core string, size int) *BatchWriter {
	if size <= 0 {
		size = 1
	}
	return &BatchWriter{adder: a, core: core, size: size, buf: make([]Document, 0, size)}
}

// Write buffers doc and reports whether the buffer was sent.
func (b *BatchWriter) Write(ctx context.Context, doc Document) (bool, error) {
	b.buf = append(b.buf, doc)
	if len(b.buf) < b.size {
		return false, nil
	}
	if err := b.Flush(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Flush sends any buffered documents.
func (b *BatchWriter) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.adder.Add(ctx, b.core, b.buf, false); err != nil {
		return fmt.Errorf("index: flush batch of %d: %w", len(b.buf), err)
	}
	b.flushed += len(b.buf)
	b.buf = b.buf[:0]
	return nil
}

// Pending is the number of buffered, unsent documents.
func (b *BatchWriter) Pending() int { return len(b.buf) }

// Flushed is the number of documents sent so far.
func (b *BatchWriter) Flushed() int { return b.flushed }
