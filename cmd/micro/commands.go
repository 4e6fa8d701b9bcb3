package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/modelstore"
	"github.com/born-ml/micro/interpreter"
)

func listOps(w io.Writer) error {
	for _, op := range interpreter.ListSupportedOps() {
		fmt.Fprintln(w, op)
	}
	return nil
}

// fetch resolves a model location to a local file.
func fetch(ctx context.Context, location string) (string, error) {
	cacheDir, err := modelstore.CacheDir()
	if err != nil {
		return "", err
	}
	return modelstore.NewResolver(cacheDir).Fetch(ctx, location)
}

func info(ctx context.Context, w io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: micro info <model>")
	}
	path, err := fetch(ctx, args[0])
	if err != nil {
		return err
	}
	mi, err := interpreter.GetModelInfo(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Name:      %s\n", mi.Name)
	fmt.Fprintf(w, "Inputs:    %s\n", strings.Join(mi.InputNames, ", "))
	fmt.Fprintf(w, "Outputs:   %s\n", strings.Join(mi.OutputNames, ", "))
	fmt.Fprintf(w, "Tensors:   %d\n", mi.TensorCount)
	fmt.Fprintf(w, "Constants: %s\n", humanize.Bytes(uint64(mi.ConstantBytes)))
	fmt.Fprintf(w, "Operators: %d\n", len(mi.Operators))
	for i, op := range mi.Operators {
		fmt.Fprintf(w, "  #%-4d %s\n", i, op)
	}
	if len(mi.Unsupported) > 0 {
		fmt.Fprintf(w, "Unsupported: %s\n", strings.Join(mi.Unsupported, ", "))
	}
	return nil
}

// inputList collects repeated -input flags.
type inputList []string

func (l *inputList) String() string     { return strings.Join(*l, " ") }
func (l *inputList) Set(v string) error { *l = append(*l, v); return nil }

// parseValues parses a comma-separated list of floats.
func parseValues(s string) ([]float32, error) {
	var values []float32
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing value %q", field)
		}
		values = append(values, float32(v))
	}
	return values, nil
}

func runModel(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var inputs inputList
	fs.Var(&inputs, "input", "comma-separated values of the next graph input (repeatable)")
	strict := fs.Bool("strict", false, "fail before loading if an operator is unsupported")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: micro run [-input values]... <model>")
	}

	path, err := fetch(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	opts := interpreter.DefaultLoadOptions()
	opts.StrictMode = *strict

	var model *interpreter.Model
	var loadErr error
	if err := exceptions.TryCatch[error](func() { model, loadErr = interpreter.Open(path, opts) }); err != nil {
		return errors.WithMessage(err, "corrupt model")
	}
	if loadErr != nil {
		return loadErr
	}
	defer func() { _ = model.Close() }()

	names := model.InputNames()
	if len(inputs) != len(names) {
		return errors.Errorf("model has %d inputs (%s), got %d -input flags",
			len(names), strings.Join(names, ", "), len(inputs))
	}
	feeds := make(map[string][]float32, len(names))
	for i, name := range names {
		values, err := parseValues(inputs[i])
		if err != nil {
			return errors.WithMessagef(err, "input %q", name)
		}
		feeds[name] = values
	}

	outputs, err := model.Forward(ctx, feeds)
	if err != nil {
		return err
	}
	for _, name := range model.OutputNames() {
		fmt.Fprintf(w, "%s: %v\n", name, outputs[name])
	}
	return nil
}

func push(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: micro push <file> <gs://bucket/object>")
	}
	if _, err := interpreter.GetModelInfo(args[0]); err != nil {
		return errors.WithMessagef(err, "%q is not a valid model", args[0])
	}
	store := &modelstore.GCSStore{}
	return store.Upload(ctx, args[0], args[1])
}
