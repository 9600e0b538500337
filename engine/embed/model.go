package embed

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// ortInit guards one-time ONNX Runtime environment setup. The environment is
// process-wide and is never torn down while the process may still embed.
var ortInit sync.Once
var ortInitErr error

func initRuntime() error {
	ortInit.Do(func() {
		if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// onnxModel runs the MiniLM sentence encoder through ONNX Runtime.
// A session run is not reentrant, so inference is serialized.
type onnxModel struct {
	mu      sync.Mutex
	tok     *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
}

// loadONNXModel loads the tokenizer and ONNX session from a prepared cache
// directory. It is the production loadFunc of the Engine.
func loadONNXModel(_ context.Context, dir string) (model, error) {
	tok, err := pretrained.FromFile(filepath.Join(dir, tokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(0); err != nil {
		return nil, fmt.Errorf("set thread count: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		filepath.Join(dir, modelFile),
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &onnxModel{tok: tok, session: session}, nil
}

// Embed tokenizes text, runs the encoder, and reduces the token states with
// attention-weighted mean pooling followed by L2 normalization.
func (m *onnxModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enc, err := m.tok.EncodeSingle(text)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	ids := enc.GetIds()
	maskInts := enc.GetAttentionMask()
	seqLen := len(ids)
	if seqLen == 0 {
		return nil, fmt.Errorf("tokenize: empty encoding")
	}

	inputIds := make([]int64, seqLen)
	attentionMask := make([]int64, seqLen)
	tokenTypeIds := make([]int64, seqLen)
	for i := range ids {
		inputIds[i] = int64(ids[i])
		attentionMask[i] = int64(maskInts[i])
	}

	shape := ort.NewShape(1, int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, inputIds)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typesTensor, err := ort.NewTensor(shape, tokenTypeIds)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typesTensor.Destroy()

	outputs := make([]ort.Value, 1)

	m.mu.Lock()
	err = m.session.Run([]ort.Value{idsTensor, maskTensor, typesTensor}, outputs)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32")
	}

	outShape := hidden.GetShape()
	if len(outShape) != 3 {
		return nil, fmt.Errorf("unexpected output rank %d", len(outShape))
	}
	outSeqLen := int(outShape[1])
	hiddenDim := int(outShape[2])

	pooled := meanPool(hidden.GetData(), outSeqLen, hiddenDim, attentionMask)
	l2Normalize(pooled)
	return pooled, nil
}

// Close releases the ONNX session. The runtime environment stays up.
func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	return nil
}

// meanPool averages token hidden states weighted by the attention mask.
// data is laid out [1, seqLen, hidden] row-major.
func meanPool(data []float32, seqLen, hidden int, mask []int64) []float32 {
	out := make([]float32, hidden)
	var count float32
	for t := 0; t < seqLen; t++ {
		if t < len(mask) && mask[t] == 0 {
			continue
		}
		row := data[t*hidden : (t+1)*hidden]
		for i, v := range row {
			out[i] += v
		}
		count++
	}
	if count > 0 {
		for i := range out {
			out[i] /= count
		}
	}
	return out
}

// l2Normalize scales v to unit length in place, so cosine similarity between
// two outputs reduces to a dot product.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
