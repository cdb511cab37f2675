package openai

import (
	"bytes"
	"io"
	"sync"
)

// ProgressFunc receives the fraction of the request body sent so far, in [0, 1].
type ProgressFunc func(fraction float64)

/*
progressReader reports how much of an in-memory body the transport has read.
Reports are monotonic and the last one is exactly 1 once the body is drained.
*/
type progressReader struct {
	reader   *bytes.Reader
	total    int64
	read     int64
	last     float64
	report   ProgressFunc
	doneOnce sync.Once
}

func newProgressReader(body []byte, report ProgressFunc) *progressReader {
	return &progressReader{reader: bytes.NewReader(body), total: int64(len(body)), report: report}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	p.read += int64(n)
	if p.report != nil && p.total > 0 && n > 0 {
		fraction := float64(p.read) / float64(p.total)
		if fraction > 1 {
			fraction = 1
		}
		if fraction > p.last && fraction < 1 {
			p.last = fraction
			p.report(fraction)
		}
	}
	if err == io.EOF || p.read >= p.total {
		p.finish()
	}
	return n, err
}

func (p *progressReader) finish() {
	p.doneOnce.Do(func() {
		if p.report != nil {
			p.last = 1
			p.report(1)
		}
	})
}

// Len lets net/http set Content-Length.
func (p *progressReader) Len() int {
	return p.reader.Len()
}
