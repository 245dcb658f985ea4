package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/secondbrain-app/secondbrain/internal/llm"
)

// DeterministicVector derives a unit vector from the text alone, so equal
// texts always embed identically and the cosine similarity of a chunk to
// itself is 1. Distinct texts land at effectively random angles.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewPCG(h.Sum64(), 0))

	v := make([]float32, dim)
	var norm float64
	for i := range v {
		x := rng.Float64()*2 - 1
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// FakeEmbedder is a deterministic in-memory llm.Embedder.
type FakeEmbedder struct {
	Model string

	mu        sync.Mutex
	dim       int
	err       error
	failFirst int
	calls     int
}

// NewFakeEmbedder returns a FakeEmbedder producing vectors of dim elements.
func NewFakeEmbedder(dim int, model string) *FakeEmbedder {
	return &FakeEmbedder{dim: dim, Model: model}
}

// SetDimension changes the produced dimension, simulating a model switch.
func (f *FakeEmbedder) SetDimension(dim int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dim = dim
}

// FailWith makes every subsequent Embed call return err (nil clears it).
func (f *FakeEmbedder) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// FailFirst makes the next n Embed calls fail with llm.ErrEmbeddingUnavailable.
func (f *FakeEmbedder) FailFirst(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFirst = n
}

// Calls reports how many Embed calls were made.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failFirst > 0 {
		f.failFirst--
		return nil, llm.ErrEmbeddingUnavailable
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = DeterministicVector(t, f.dim)
	}
	return out, nil
}

func (f *FakeEmbedder) Dimension() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dim
}

func (f *FakeEmbedder) ModelName() string { return f.Model }

// FakeStreamer is an in-memory llm.StreamCompleter returning a canned
// response in small deltas.
type FakeStreamer struct {
	Response  string
	DeltaSize int // rune count per delta, default 5
	Err       error

	mu           sync.Mutex
	lastMessages []llm.Message
}

// LastMessages returns the messages from the most recent call.
func (f *FakeStreamer) LastMessages() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessages
}

func (f *FakeStreamer) record(messages []llm.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMessages = append([]llm.Message(nil), messages...)
}

func (f *FakeStreamer) Stream(ctx context.Context, messages []llm.Message, onDelta func(string) error) (string, error) {
	f.record(messages)
	if f.Err != nil {
		return "", f.Err
	}

	size := f.DeltaSize
	if size <= 0 {
		size = 5
	}
	runes := []rune(f.Response)
	for start := 0; start < len(runes); start += size {
		if err := ctx.Err(); err != nil {
			return string(runes[:start]), err
		}
		end := min(start+size, len(runes))
		if err := onDelta(string(runes[start:end])); err != nil {
			return string(runes[:end]), err
		}
	}
	return f.Response, nil
}

func (f *FakeStreamer) Complete(_ context.Context, messages []llm.Message) (string, error) {
	f.record(messages)
	if f.Err != nil {
		return "", f.Err
	}
	return f.Response, nil
}
