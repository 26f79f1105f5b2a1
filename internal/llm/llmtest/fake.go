// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/aixiaozi/go-kids-chat/internal/llm"
)

var _ llm.Client = (*Fake)(nil)

// Fake is a scripted llm.Client. Each Complete call pops the next
// entry of Replies/Errs; when the script is exhausted the last entry repeats.
type Fake struct {
	mu sync.Mutex

	Replies []llm.Response
	Errs    []error

	StreamDeltas []llm.Delta
	StreamErr    error // returned from Stream itself
	RecvErr      error // returned after all deltas instead of io.EOF

	Transcript    string
	TranscribeErr error

	Calls []llm.Request
}

func (f *Fake) pick(i int) (llm.Response, error) {
	var r llm.Response
	var err error
	if n := len(f.Replies); n > 0 {
		r = f.Replies[min(i, n-1)]
	}
	if n := len(f.Errs); n > 0 {
		err = f.Errs[min(i, n-1)]
	}
	return r, err
}

// Complete implements llm.Client.
func (f *Fake) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	i := len(f.Calls)
	f.Calls = append(f.Calls, req)
	r, err := f.pick(i)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if err != nil {
		return llm.Response{}, err
	}
	if r.Model == "" {
		r.Model = req.Model
	}
	return r, nil
}

// Stream implements llm.Client.
func (f *Fake) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, req)
	f.mu.Unlock()
	if f.StreamErr != nil {
		return nil, f.StreamErr
	}
	return &fakeStream{deltas: append([]llm.Delta(nil), f.StreamDeltas...), end: f.RecvErr}, nil
}

// Transcribe implements llm.Client.
func (f *Fake) Transcribe(ctx context.Context, req llm.TranscribeRequest) (string, error) {
	if req.Reader != nil {
		_, _ = io.Copy(io.Discard, req.Reader)
	}
	return f.Transcript, f.TranscribeErr
}

// CallCount returns the number of Complete/Stream calls so far.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

type fakeStream struct {
	deltas []llm.Delta
	end    error
}

func (s *fakeStream) Recv() (llm.Delta, error) {
	if len(s.deltas) == 0 {
		if s.end != nil {
			return llm.Delta{}, s.end
		}
		return llm.Delta{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *fakeStream) Close() error { return nil }
