package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/gridkit/internal/datasource"
	"github.com/noah-isme/gridkit/internal/models"
)

// countingRows is the iterator handed to exporters. It reports progress after
// each row it yields and remembers how many rows went out.
type countingRows interface {
	Next() bool
	Row() models.Row
	Err() error
	Yielded() int
}

// pageRows yields an already materialized page.
type pageRows struct {
	rows     []models.Row
	pos      int
	progress ProgressFunc
}

func newPageRows(rows []models.Row, progress ProgressFunc) *pageRows {
	return &pageRows{rows: rows, pos: -1, progress: progress}
}

func (it *pageRows) Next() bool {
	if it.pos+1 >= len(it.rows) {
		return false
	}
	it.pos++
	it.progress(it.pos+1, len(it.rows))
	return true
}

func (it *pageRows) Row() models.Row { return it.rows[it.pos] }
func (it *pageRows) Err() error      { return nil }
func (it *pageRows) Yielded() int    { return it.pos + 1 }

// chunkedRows pulls the result set page by page from a source, holding at
// most one chunk in memory. It stops once total rows were yielded or a chunk
// comes back empty, whichever happens first.
type chunkedRows struct {
	ctx      context.Context
	source   datasource.Source
	query    models.Query
	size     int
	progress ProgressFunc

	buf      []models.Row
	idx      int
	nextPage int
	total    int
	done     int
	fetches  int
	finished bool
	err      error
}

// newChunkedRows starts the iteration from an already fetched first chunk.
func newChunkedRows(ctx context.Context, source datasource.Source, query models.Query, size int, first models.Page, progress ProgressFunc) *chunkedRows {
	return &chunkedRows{
		ctx:      ctx,
		source:   source,
		query:    query,
		size:     size,
		progress: progress,
		buf:      first.Rows,
		nextPage: 2,
		total:    first.TotalRows,
		fetches:  1,
		finished: len(first.Rows) == 0,
	}
}

func (it *chunkedRows) Next() bool {
	for {
		if it.idx < len(it.buf) {
			it.idx++
			it.done++
			it.progress(it.done, it.total)
			return true
		}
		if it.finished || it.err != nil || it.done >= it.total {
			it.buf = nil
			return false
		}

		page, err := it.source.FetchPage(it.ctx, it.query.WithPage(it.nextPage, it.size))
		it.fetches++
		if err != nil {
			it.err = fmt.Errorf("fetch export chunk %d: %w", it.nextPage, err)
			return false
		}
		it.nextPage++
		if len(page.Rows) == 0 {
			it.finished = true
			continue
		}
		it.buf, it.idx = page.Rows, 0
	}
}

func (it *chunkedRows) Row() models.Row { return it.buf[it.idx-1] }
func (it *chunkedRows) Err() error      { return it.err }
func (it *chunkedRows) Yielded() int    { return it.done }
