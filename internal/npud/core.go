// Package npud is the device-management core of the interpreter daemon. It keeps tables of
// device contexts, loaded networks and inference requests, and addresses them by integer
// handles. Every operation reports an integer status code (see StatusOK) instead of an error,
// so the transport in front of it can forward results unchanged.
package npud

import (
	"context"
	"maps"
	"os"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/micro/internal/loader"
	"github.com/born-ml/micro/internal/modelstore"
)

// Config configures a Core.
type Config struct {
	// Devices lists the device names reported by DeviceGetAvailableList. Device ids index it.
	Devices []string

	// CacheDir holds models downloaded from gs:// locations.
	CacheDir string

	// LoadOptions is used for every network.
	LoadOptions loader.LoadOptions
}

// DefaultConfig returns a configuration with the CPU device and the default cache directory.
func DefaultConfig() Config {
	cacheDir, err := modelstore.CacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return Config{
		Devices:     []string{"cpu"},
		CacheDir:    cacheDir,
		LoadOptions: loader.DefaultLoadOptions(),
	}
}

type deviceContext struct {
	deviceID int
	priority int
	networks map[uint32]*network
	requests map[uint32]*request
}

type network struct {
	mu       sync.Mutex // Held while a request runs.
	location string
	model    *loader.Model
	requests int
}

type request struct {
	id      uuid.UUID
	network uint32
	inputs  map[int][]float32
	outputs [][]float32
}

// Core owns the contexts, networks and requests. It is safe for concurrent use.
type Core struct {
	mu     sync.Mutex
	config Config
	store  modelstore.Store

	contexts    map[uint64]*deviceContext
	nextContext uint64
	nextNetwork uint32
	nextRequest uint32
}

// New creates a Core. Models are fetched through store, or through a resolver over
// config.CacheDir if store is nil.
func New(config Config, store modelstore.Store) *Core {
	if store == nil {
		store = modelstore.NewResolver(config.CacheDir)
	}
	return &Core{
		config:   config,
		store:    store,
		contexts: make(map[uint64]*deviceContext),
	}
}

// DeviceGetAvailableList returns the names of the available devices.
func (c *Core) DeviceGetAvailableList() ([]string, int) {
	if len(c.config.Devices) == 0 {
		return nil, StatusNoDevice
	}
	return append([]string(nil), c.config.Devices...), StatusOK
}

// ContextCreate opens a context on the device with the given id.
func (c *Core) ContextCreate(deviceID, priority int) (uint64, int) {
	if deviceID < 0 || deviceID >= len(c.config.Devices) {
		return 0, StatusNoDevice
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextContext++
	handle := c.nextContext
	c.contexts[handle] = &deviceContext{
		deviceID: deviceID,
		priority: priority,
		networks: make(map[uint32]*network),
		requests: make(map[uint32]*request),
	}
	klog.V(1).InfoS("context created", "context", handle, "device", c.config.Devices[deviceID], "priority", priority)
	return handle, StatusOK
}

// ContextDestroy closes a context, with all its networks and requests.
func (c *Core) ContextDestroy(ctxHandle uint64) int {
	c.mu.Lock()
	dc, found := c.contexts[ctxHandle]
	if !found {
		c.mu.Unlock()
		return StatusNotFound
	}
	delete(c.contexts, ctxHandle)
	c.mu.Unlock()

	for handle, nw := range dc.networks {
		nw.mu.Lock()
		if err := nw.model.Close(); err != nil {
			klog.ErrorS(err, "closing network", "context", ctxHandle, "network", handle)
		}
		nw.mu.Unlock()
	}
	klog.V(1).InfoS("context destroyed", "context", ctxHandle,
		"networks", len(dc.networks), "requests", len(dc.requests))
	return StatusOK
}

// NetworkCreate loads the model at modelPath, a local path or gs:// URL, into the context.
// A model that fails structural checks yields StatusFault without affecting other networks.
func (c *Core) NetworkCreate(ctx context.Context, ctxHandle uint64, modelPath string) (uint32, int) {
	log := klog.FromContext(ctx).WithValues("context", ctxHandle, "model", modelPath)

	c.mu.Lock()
	_, found := c.contexts[ctxHandle]
	c.mu.Unlock()
	if !found {
		return 0, StatusNotFound
	}
	if modelPath == "" {
		return 0, StatusInvalidArgument
	}

	path, err := c.store.Fetch(ctx, modelPath)
	if err != nil {
		log.Error(err, "fetching model")
		if errors.Is(err, os.ErrNotExist) {
			return 0, StatusNotFound
		}
		return 0, StatusFault
	}

	var model *loader.Model
	var loadErr error
	err = exceptions.TryCatch[error](func() {
		model, loadErr = loader.OpenModel(path, c.config.LoadOptions)
	})
	if err == nil {
		err = loadErr
	}
	if err != nil {
		log.Error(err, "loading model")
		return 0, StatusFault
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dc, found := c.contexts[ctxHandle]
	if !found {
		// The context was destroyed while the model was loading.
		_ = model.Close()
		return 0, StatusNotFound
	}
	c.nextNetwork++
	handle := c.nextNetwork
	dc.networks[handle] = &network{location: modelPath, model: model}
	log.V(1).Info("network created", "network", handle, "kernels", model.Stats().Kernels)
	return handle, StatusOK
}

// NetworkDestroy unloads a network. Networks with live requests are not destroyed.
func (c *Core) NetworkDestroy(ctxHandle uint64, nwHandle uint32) int {
	c.mu.Lock()
	dc, found := c.contexts[ctxHandle]
	if !found {
		c.mu.Unlock()
		return StatusNotFound
	}
	nw, found := dc.networks[nwHandle]
	if !found {
		c.mu.Unlock()
		return StatusNotFound
	}
	if nw.requests > 0 {
		c.mu.Unlock()
		return StatusBusy
	}
	delete(dc.networks, nwHandle)
	c.mu.Unlock()

	nw.mu.Lock()
	defer nw.mu.Unlock()
	if err := nw.model.Close(); err != nil {
		klog.ErrorS(err, "closing network", "context", ctxHandle, "network", nwHandle)
		return StatusFault
	}
	klog.V(1).InfoS("network destroyed", "context", ctxHandle, "network", nwHandle)
	return StatusOK
}

// RequestCreate creates an inference request on a network.
func (c *Core) RequestCreate(ctxHandle uint64, nwHandle uint32) (uint32, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dc, found := c.contexts[ctxHandle]
	if !found {
		return 0, StatusNotFound
	}
	nw, found := dc.networks[nwHandle]
	if !found {
		return 0, StatusNotFound
	}
	c.nextRequest++
	handle := c.nextRequest
	rq := &request{id: uuid.New(), network: nwHandle, inputs: make(map[int][]float32)}
	dc.requests[handle] = rq
	nw.requests++
	klog.V(2).InfoS("request created", "context", ctxHandle, "network", nwHandle, "request", handle, "trace", rq.id)
	return handle, StatusOK
}

// RequestDestroy removes a request.
func (c *Core) RequestDestroy(ctxHandle uint64, rqHandle uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dc, rq, status := c.lookupRequest(ctxHandle, rqHandle)
	if status != StatusOK {
		return status
	}
	delete(dc.requests, rqHandle)
	if nw, found := dc.networks[rq.network]; found {
		nw.requests--
	}
	return StatusOK
}

// lookupRequest must be called with c.mu held.
func (c *Core) lookupRequest(ctxHandle uint64, rqHandle uint32) (*deviceContext, *request, int) {
	dc, found := c.contexts[ctxHandle]
	if !found {
		return nil, nil, StatusNotFound
	}
	rq, found := dc.requests[rqHandle]
	if !found {
		return nil, nil, StatusNotFound
	}
	return dc, rq, StatusOK
}

// RequestSetInput stages data for the network input at index.
func (c *Core) RequestSetInput(ctxHandle uint64, rqHandle uint32, index int, data []float32) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, rq, status := c.lookupRequest(ctxHandle, rqHandle)
	if status != StatusOK {
		return status
	}
	if index < 0 {
		return StatusInvalidArgument
	}
	rq.inputs[index] = append([]float32(nil), data...)
	return StatusOK
}

// RequestRun executes the request's network on its staged inputs and keeps the outputs in
// the request. Requests on the same network run one at a time.
func (c *Core) RequestRun(ctx context.Context, ctxHandle uint64, rqHandle uint32) int {
	c.mu.Lock()
	dc, rq, status := c.lookupRequest(ctxHandle, rqHandle)
	if status != StatusOK {
		c.mu.Unlock()
		return status
	}
	nw, found := dc.networks[rq.network]
	inputs := maps.Clone(rq.inputs)
	c.mu.Unlock()
	if !found {
		return StatusNotFound
	}

	log := klog.FromContext(ctx).WithValues("context", ctxHandle, "request", rqHandle, "trace", rq.id)
	nw.mu.Lock()
	defer nw.mu.Unlock()

	outputs, err := runNetwork(ctx, nw.model, inputs)
	if err != nil {
		log.Error(err, "running request")
		return StatusInvalidArgument
	}

	c.mu.Lock()
	rq.outputs = outputs
	c.mu.Unlock()
	log.V(2).Info("request done", "network", rq.network)
	return StatusOK
}

func runNetwork(ctx context.Context, model *loader.Model, inputs map[int][]float32) (outputs [][]float32, err error) {
	for i := range model.InputNames() {
		data, found := inputs[i]
		if !found {
			return nil, errors.Errorf("input #%d not set", i)
		}
		if err := model.SetInput(i, data); err != nil {
			return nil, err
		}
	}
	var runErr error
	err = exceptions.TryCatch[error](func() {
		runErr = model.Run(ctx)
	})
	if err == nil {
		err = runErr
	}
	if err != nil {
		return nil, err
	}
	for i := range model.OutputNames() {
		data, err := model.Output(i)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, data)
	}
	return outputs, nil
}

// RequestGetOutput returns the output at index of the last run of the request.
func (c *Core) RequestGetOutput(ctxHandle uint64, rqHandle uint32, index int) ([]float32, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, rq, status := c.lookupRequest(ctxHandle, rqHandle)
	if status != StatusOK {
		return nil, status
	}
	if index < 0 || index >= len(rq.outputs) {
		return nil, StatusInvalidArgument
	}
	return append([]float32(nil), rq.outputs[index]...), StatusOK
}

// Close destroys every context.
func (c *Core) Close() {
	c.mu.Lock()
	handles := make([]uint64, 0, len(c.contexts))
	for handle := range c.contexts {
		handles = append(handles, handle)
	}
	c.mu.Unlock()
	for _, handle := range handles {
		c.ContextDestroy(handle)
	}
}
