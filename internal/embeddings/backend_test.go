package embeddings

import (
	"errors"
	"testing"
)

func TestShardRanges(t *testing.T) {
	tests := []struct {
		name string
		n, k int
		want [][2]int
	}{
		{"even", 6, 3, [][2]int{{0, 2}, {2, 4}, {4, 6}}},
		{"short tail", 7, 3, [][2]int{{0, 3}, {3, 6}, {6, 7}}},
		{"fewer rows than replicas", 2, 4, [][2]int{{0, 1}, {1, 2}}},
		{"single replica", 5, 1, [][2]int{{0, 5}}},
		{"empty", 0, 2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shardRanges(tt.n, tt.k)
			if len(got) != len(tt.want) {
				t.Fatalf("shardRanges(%d, %d) = %v, want %v", tt.n, tt.k, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("range %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGather(t *testing.T) {
	parts := []*ForwardOutput{
		{Batch: 1, SeqLen: 2, Hidden: 2, LastHiddenState: []float32{1, 2, 3, 4}, PoolerOutput: []float32{1, 1}},
		{Batch: 2, SeqLen: 2, Hidden: 2, LastHiddenState: []float32{5, 6, 7, 8, 9, 10, 11, 12}, PoolerOutput: []float32{2, 2, 3, 3}},
	}

	out, err := gather(parts, 3, 2)
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if out.Batch != 3 || out.Hidden != 2 || out.SeqLen != 2 {
		t.Errorf("unexpected dims %+v", out)
	}
	if len(out.LastHiddenState) != 12 || out.LastHiddenState[4] != 5 {
		t.Errorf("hidden states not concatenated in order: %v", out.LastHiddenState)
	}
	if len(out.PoolerOutput) != 6 || out.PoolerOutput[2] != 2 {
		t.Errorf("pooler output not concatenated in order: %v", out.PoolerOutput)
	}
	if out.SentenceEmbedding != nil {
		t.Error("sentence embedding should stay nil")
	}

	t.Run("mismatched shapes", func(t *testing.T) {
		bad := []*ForwardOutput{{Hidden: 2, SeqLen: 1}, {Hidden: 3, SeqLen: 1}}
		if _, err := gather(bad, 2, 1); !errors.Is(err, ErrInferenceFailed) {
			t.Errorf("expected ErrInferenceFailed, got %v", err)
		}
	})

	t.Run("no output", func(t *testing.T) {
		if _, err := gather([]*ForwardOutput{nil}, 1, 1); !errors.Is(err, ErrInferenceFailed) {
			t.Errorf("expected ErrInferenceFailed, got %v", err)
		}
	})
}

func TestClassifyRuntimeError(t *testing.T) {
	oom := classifyRuntimeError(errors.New("CUDA failure 2: out of memory"))
	if !errors.Is(oom, ErrOutOfMemory) {
		t.Errorf("expected ErrOutOfMemory, got %v", oom)
	}

	other := classifyRuntimeError(errors.New("invalid input shape"))
	if !errors.Is(other, ErrInferenceFailed) || errors.Is(other, ErrOutOfMemory) {
		t.Errorf("expected ErrInferenceFailed only, got %v", other)
	}

	if classifyRuntimeError(nil) != nil {
		t.Error("nil should stay nil")
	}
	if !IsOutOfMemory(ErrOutOfMemory) || IsOutOfMemory(nil) {
		t.Error("IsOutOfMemory misclassifies sentinels")
	}
}
