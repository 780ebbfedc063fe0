package embeddings

import (
	"fmt"
	"sort"
	"strings"
)

// TokenizerMode says who turns text into token ids for a family.
type TokenizerMode int

const (
	// TokenizeTensor families are tokenized here into padded id tensors.
	TokenizeTensor TokenizerMode = iota
	// TokenizeInternal families receive raw strings and tokenize inside the backend.
	TokenizeInternal
)

func (m TokenizerMode) String() string {
	switch m {
	case TokenizeTensor:
		return "tensor"
	case TokenizeInternal:
		return "internal"
	default:
		return fmt.Sprintf("TokenizerMode(%d)", int(m))
	}
}

// Pooling selects how a forward pass output becomes one vector per input.
type Pooling int

const (
	// PoolPooler uses the model's pooler output head.
	PoolPooler Pooling = iota
	// PoolMean averages last hidden states over unmasked positions.
	PoolMean
	// PoolCLS takes the last hidden state at position 0.
	PoolCLS
	// PoolSentence uses the sentence embedding produced by the backend.
	PoolSentence
)

func (p Pooling) String() string {
	switch p {
	case PoolPooler:
		return "pooler"
	case PoolMean:
		return "mean"
	case PoolCLS:
		return "cls"
	case PoolSentence:
		return "sentence"
	default:
		return fmt.Sprintf("Pooling(%d)", int(p))
	}
}

// Family describes how one supported model identifier is loaded, tokenized and pooled.
type Family struct {
	Name        string
	Repo        string
	AdapterRepo string
	AdapterName string

	Tokenizer     TokenizerMode
	Pooling       Pooling
	Normalize     bool
	UseTokenTypes bool
	CheckSeqLen   bool
	PadID         int64

	// ProbeDivisor scales the caller's maximum batch down before probing. Zero means no scaling.
	ProbeDivisor int
	// ProbeMultiplier scales the first probe candidate up. Zero means 1.
	ProbeMultiplier int
	// SingleDevice families only ever run on the primary device.
	SingleDevice bool
	// SentencePooling is applied to the last hidden state when a PoolSentence
	// graph has no sentence embedding output.
	SentencePooling Pooling
}

// HasAdapter reports whether the family activates an adapter on top of its base model.
func (f Family) HasAdapter() bool {
	return f.AdapterRepo != ""
}

func (f Family) multiplier() int {
	if f.ProbeMultiplier <= 0 {
		return 1
	}
	return f.ProbeMultiplier
}

const (
	bertPad    int64 = 0
	robertaPad int64 = 1
)

var families = map[string]Family{
	"ernie": {
		Name: "ernie", Repo: "nghuyong/ernie-2.0-large-en",
		Tokenizer: TokenizeTensor, Pooling: PoolPooler,
		PadID: bertPad, ProbeDivisor: 3,
	},
	"e5": {
		Name: "e5", Repo: "intfloat/e5-large-v2",
		Tokenizer: TokenizeTensor, Pooling: PoolMean, Normalize: true, UseTokenTypes: true, CheckSeqLen: true,
		PadID: bertPad, ProbeDivisor: 3,
	},
	"e5v3": {
		Name: "e5v3", Repo: "intfloat/e5-large-v2",
		Tokenizer: TokenizeTensor, Pooling: PoolMean, Normalize: true, UseTokenTypes: true, CheckSeqLen: true,
		PadID: bertPad, ProbeDivisor: 3,
	},
	"simcse": {
		Name: "simcse", Repo: "princeton-nlp/sup-simcse-roberta-large",
		Tokenizer: TokenizeTensor, Pooling: PoolPooler, Normalize: true, CheckSeqLen: true,
		PadID: robertaPad, ProbeDivisor: 3,
	},
	"roberta": {
		Name: "roberta", Repo: "roberta-large",
		Tokenizer: TokenizeTensor, Pooling: PoolMean, Normalize: true, CheckSeqLen: true,
		PadID: robertaPad, ProbeDivisor: 3,
	},
	"simlm": {
		Name: "simlm", Repo: "intfloat/simlm-base-msmarco-finetuned",
		Tokenizer: TokenizeTensor, Pooling: PoolCLS, Normalize: true,
		PadID: bertPad,
	},
	"spladev2": {
		Name: "spladev2", Repo: "naver/splade_v2_distil",
		Tokenizer: TokenizeTensor, Pooling: PoolMean, Normalize: true,
		PadID: bertPad,
	},
	"scibert": {
		Name: "scibert", Repo: "allenai/scibert_scivocab_cased",
		Tokenizer: TokenizeTensor, Pooling: PoolPooler, Normalize: true, CheckSeqLen: true,
		PadID: bertPad,
	},
	"specterv2": {
		Name: "specterv2", Repo: "allenai/specter2_base",
		AdapterRepo: "allenai/specter2", AdapterName: "specter2",
		Tokenizer: TokenizeTensor, Pooling: PoolCLS, Normalize: true,
		PadID: bertPad,
	},
	"sentbert": {
		Name: "sentbert", Repo: "sentence-transformers/all-mpnet-base-v2",
		Tokenizer: TokenizeInternal, Pooling: PoolSentence, SentencePooling: PoolMean, Normalize: true,
		PadID: robertaPad, ProbeMultiplier: 5, SingleDevice: true,
	},
	"ance": {
		Name: "ance", Repo: "sentence-transformers/msmarco-roberta-base-ance-firstp",
		Tokenizer: TokenizeInternal, Pooling: PoolSentence, SentencePooling: PoolCLS, Normalize: true,
		PadID: robertaPad, ProbeMultiplier: 5, SingleDevice: true,
	},
}

// LookupFamily returns the family registered under name.
func LookupFamily(name string) (Family, error) {
	f, ok := families[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Family{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownModel, name, strings.Join(FamilyNames(), ", "))
	}
	return f, nil
}

// FamilyNames lists the supported model identifiers in sorted order.
func FamilyNames() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Families returns every registered family sorted by name.
func Families() []Family {
	names := FamilyNames()
	out := make([]Family, len(names))
	for i, name := range names {
		out[i] = families[name]
	}
	return out
}
