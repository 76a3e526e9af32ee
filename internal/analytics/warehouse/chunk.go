package warehouse

import (
	"context"
	"fmt"
)

// DefaultChunkSize is the row count per load job when chunking is enabled
// without an explicit size.
const DefaultChunkSize = 1_000_000

// WriteOptions controls a bulk write.
type WriteOptions struct {
	// UseChunks splits the rows into ChunkSize-row jobs.
	UseChunks bool
	ChunkSize int
}

func (o WriteOptions) size(n int) int {
	if !o.UseChunks {
		return n
	}
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

// Writer appends records to a destination table, creating the container
// and table when absent. It returns the number of rows written.
type Writer interface {
	Write(ctx context.Context, dest Destination, recs []SaleRecord, opts WriteOptions) (int, error)
}

// Chunk splits rows into consecutive slices of at most size elements. A
// non-positive size yields a single chunk.
func Chunk[T any](rows []T, size int) [][]T {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 || size >= len(rows) {
		return [][]T{rows}
	}
	out := make([][]T, 0, (len(rows)+size-1)/size)
	for i := 0; i < len(rows); i += size {
		end := min(i+size, len(rows))
		out = append(out, rows[i:end])
	}
	return out
}

func chunkLabel(i, n int) string { return fmt.Sprintf("%d/%d", i+1, n) }
