// Package mock provides a test double for the asr.Engine interface.
//
// Use Engine to feed controlled transcripts into pipeline tests and inspect
// which requests were issued:
//
//	eng := &mock.Engine{
//	    Result: &asr.Result{Segments: []asr.Segment{{Text: "hello", EndS: 1}}},
//	}
//	res, _ := eng.Transcribe(ctx, asr.Request{WAVPath: "in.wav"})
package mock

import (
	"context"
	"sync"

	"github.com/KushagraSharma924/censorly/internal/asr"
)

// Compile-time assertion that Engine satisfies asr.Engine.
var _ asr.Engine = (*Engine)(nil)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe.
	Req asr.Request
}

// Engine is a mock implementation of asr.Engine.
type Engine struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFn is nil. A nil
	// Result yields an empty transcript.
	Result *asr.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFn, if set, overrides Result/Err entirely.
	TranscribeFn func(ctx context.Context, req asr.Request) (*asr.Result, error)

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall

	// CloseCalls counts calls to Close.
	CloseCalls int
}

// Transcribe records the call and returns the configured transcript.
func (e *Engine) Transcribe(ctx context.Context, req asr.Request) (*asr.Result, error) {
	e.mu.Lock()
	e.TranscribeCalls = append(e.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: req})
	fn := e.TranscribeFn
	res, err := e.Result, e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &asr.Result{}, nil
	}
	return res, nil
}

// Close counts the call and returns nil.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCalls++
	return nil
}
