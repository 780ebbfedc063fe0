//go:build onnx
// +build onnx

package embeddings

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment() error {
	envOnce.Do(func() {
		// Allow user to provide shared library path via environment variable.
		if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// onnxReplica is one session pinned to one device.
type onnxReplica struct {
	device  int
	session *ort.DynamicAdvancedSession
}

// OnnxBackend implements Backend using ONNX Runtime (via yalue/onnxruntime_go).
// A multi-device placement holds one replica per device and splits every
// batch across them.
type OnnxBackend struct {
	replicas    []*onnxReplica
	inputNames  []string
	outputNames []string
	family      Family
	tokenizer   Tokenizer
	params      int64
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewTransformerBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func NewTransformerBackend(logger *zap.Logger, opts BackendOptions) (Backend, error) {
	if err := initEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", opts.ModelPath))
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}
	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("%w: %s reports no outputs", ErrModelNotLoaded, opts.ModelPath)
	}

	inputNames := make([]string, len(inputsInfo))
	for i, ii := range inputsInfo {
		inputNames[i] = ii.Name
	}
	outputNames := make([]string, len(outputsInfo))
	for i, oi := range outputsInfo {
		outputNames[i] = oi.Name
	}

	b := &OnnxBackend{
		inputNames:  inputNames,
		outputNames: outputNames,
		family:      opts.Family,
		tokenizer:   opts.Tokenizer,
		params:      estimateParameters(opts.ModelPath),
		logger:      logger,
	}

	devices := opts.Devices.IDs()
	if opts.Devices.IsCPU() {
		devices = []int{-1}
	}
	for _, device := range devices {
		sess, err := newSession(opts.ModelPath, inputNames, outputNames, device)
		if err != nil {
			_ = b.Close()
			logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.Int("device", device))
			return nil, classifyRuntimeError(err)
		}
		b.replicas = append(b.replicas, &onnxReplica{device: device, session: sess})
	}

	logger.Info("ONNX Runtime backend ready",
		zap.String("model", opts.ModelPath),
		zap.Strings("inputs", inputNames),
		zap.Strings("outputs", outputNames),
		zap.Int("replicas", len(b.replicas)))
	return b, nil
}

func newSession(path string, inputs, outputs []string, device int) (*ort.DynamicAdvancedSession, error) {
	if device < 0 {
		return ort.NewDynamicAdvancedSession(path, inputs, outputs, nil)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	defer cuda.Destroy()

	if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(device)}); err != nil {
		return nil, err
	}
	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		return nil, err
	}
	return ort.NewDynamicAdvancedSession(path, inputs, outputs, options)
}

// estimateParameters approximates the parameter count from float32 weight bytes.
func estimateParameters(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size() / 4
}

// Parameters returns the estimated parameter count.
func (b *OnnxBackend) Parameters() int64 {
	return b.params
}

// Close releases all sessions.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.replicas {
		if r.session != nil {
			r.session.Destroy()
			r.session = nil
		}
	}
	b.replicas = nil
	return nil
}

// Forward scatters the batch across replicas and gathers the outputs in order.
func (b *OnnxBackend) Forward(ctx context.Context, batch *TokenizedBatch) (*ForwardOutput, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.replicas) == 0 {
		return nil, ErrModelNotLoaded
	}

	if !batch.IsTensor() {
		inner := b.family
		inner.Tokenizer = TokenizeTensor
		tensors, err := Tokenize(inner, b.tokenizer, batch.Texts)
		if err != nil {
			return nil, err
		}
		batch = tensors
	}

	ranges := shardRanges(batch.Size, len(b.replicas))
	results := make([]*ForwardOutput, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, rg := range ranges {
		i := i
		shard := batch.Shard(rg[0], rg[1])
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := b.replicas[i].run(b.inputNames, b.outputNames, shard)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := gather(results, batch.Size, batch.SeqLen)
	if err != nil {
		return nil, err
	}

	if b.family.Pooling == PoolSentence {
		if err := poolSentence(b.family, out, batch.AttentionMask, batch.Size); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *onnxReplica) run(inputNames, outputNames []string, batch *TokenizedBatch) (*ForwardOutput, error) {
	shape := ort.NewShape(int64(batch.Size), int64(batch.SeqLen))

	idsTensor, err := ort.NewTensor[int64](shape, batch.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, batch.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor[int64](shape, batch.TokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	inputs := make([]ort.Value, len(inputNames))
	for i, rawName := range inputNames {
		name := strings.ToLower(rawName)
		switch {
		case strings.Contains(name, "mask") || strings.Contains(name, "attention"):
			inputs[i] = maskTensor
		case strings.Contains(name, "token_type") || strings.Contains(name, "segment"):
			inputs[i] = typeTensor
		default:
			inputs[i] = idsTensor
		}
	}

	// Let ORT allocate the outputs
	outputs := make([]ort.Value, len(outputNames))
	if err := r.session.Run(inputs, outputs); err != nil {
		return nil, classifyRuntimeError(fmt.Errorf("device %d: %w", r.device, err))
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()

	out := &ForwardOutput{Batch: batch.Size, SeqLen: batch.SeqLen}
	for i, o := range outputs {
		tensor, ok := o.(*ort.Tensor[float32])
		if !ok {
			continue
		}
		shape := tensor.GetShape()
		data := append([]float32(nil), tensor.GetData()...)
		name := strings.ToLower(outputNames[i])

		switch {
		case strings.Contains(name, "sentence"):
			out.SentenceEmbedding = data
			out.Hidden = int(shape[len(shape)-1])
		case len(shape) == 3 && out.LastHiddenState == nil:
			out.LastHiddenState = data
			out.SeqLen = int(shape[1])
			out.Hidden = int(shape[2])
		case len(shape) == 2 && out.PoolerOutput == nil:
			out.PoolerOutput = data
			out.Hidden = int(shape[1])
		}
	}
	if out.Hidden == 0 {
		return nil, fmt.Errorf("%w: no float32 outputs from device %d", ErrInferenceFailed, r.device)
	}
	return out, nil
}
