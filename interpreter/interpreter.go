// Package interpreter runs pre-compiled neural-network graphs stored in the .mcro format.
//
// A model file holds the tensors, operators, quantization parameters and constant data of a
// graph. Loading maps the file, borrows the constant data without copying it, allocates the
// graph inputs and builds one kernel per operator. Intermediate storage is allocated on the
// first run and recycled between kernels; kernels known to be safe for it write their output
// into their input's storage.
//
// # Example Usage
//
//	model, err := interpreter.Open("classifier.mcro")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer model.Close()
//
//	outputs, err := model.Forward(ctx, map[string][]float32{
//	    "input": {0.1, 0.2, 0.3, 0.4},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	probs := outputs["probs"]
//
// Models can also be fetched from Google Cloud Storage with [Load]:
//
//	model, err := interpreter.Load(ctx, "gs://models/vision/classifier.mcro")
//
// # Supported Operators
//
// ADD, MUL, LOGISTIC, RELU, RESHAPE, EXPAND_DIMS, INSTANCE_NORM, FULLY_CONNECTED and SOFTMAX,
// computed in float32 (float16 tensors are converted). Use [ListSupportedOps] for the list.
package interpreter

import (
	"context"

	"github.com/born-ml/micro/internal/loader"
	"github.com/born-ml/micro/internal/modelstore"
)

// Model is a loaded network. See Open and Load.
type Model = loader.Model

// LoadOptions configures model loading.
type LoadOptions = loader.LoadOptions

// ModelInfo describes a model file without loading it.
type ModelInfo = loader.ModelInfo

// DefaultLoadOptions returns the default options for loading models.
//
// Default configuration:
//   - Strict mode: disabled (loading fails when an unsupported operator is reached)
//   - No custom kernel builders
func DefaultLoadOptions() LoadOptions {
	return loader.DefaultLoadOptions()
}

// Open loads the model file at path.
//
// For custom loading options, pass LoadOptions:
//
//	opts := interpreter.DefaultLoadOptions()
//	opts.StrictMode = true
//	model, err := interpreter.Open("model.mcro", opts)
func Open(path string, opts ...LoadOptions) (*Model, error) {
	return loader.OpenModel(path, opts...)
}

// Load resolves location, a local path or a gs://bucket/object URL, and loads the model.
// Downloads are cached in the directory named by $MICRO_CACHE_DIR (default
// ~/.cache/micro/models).
func Load(ctx context.Context, location string, opts ...LoadOptions) (*Model, error) {
	cacheDir, err := modelstore.CacheDir()
	if err != nil {
		return nil, err
	}
	path, err := modelstore.NewResolver(cacheDir).Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	return Open(path, opts...)
}

// GetModelInfo inspects the model file at path without loading it.
//
// Example:
//
//	info, err := interpreter.GetModelInfo("model.mcro")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Inputs: %v\n", info.InputNames)
//	fmt.Printf("Operators: %v\n", info.Operators)
func GetModelInfo(path string) (*ModelInfo, error) {
	return loader.GetModelInfo(path)
}

// ListSupportedOps returns the opcodes the interpreter can build kernels for.
func ListSupportedOps() []string {
	return loader.ListSupportedOps()
}
