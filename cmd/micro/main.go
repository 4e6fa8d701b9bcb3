// Package main provides the micro CLI: inspect, run and publish .mcro models.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

const version = "v0.1.0"

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	if err := run(context.Background(), flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `micro %s - embedded graph interpreter

Usage:
  micro [klog flags] <command> [arguments]

Commands:
  version                         Show version
  ops                             List supported operators
  info <model>                    Describe a model file
  run [-input values]... <model>  Run a model on comma-separated float inputs
  push <file> <gs://bucket/obj>   Upload a model to Google Cloud Storage

Models may be local paths or gs:// URLs, cached in $MICRO_CACHE_DIR.
`, version)
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage()
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version":
		fmt.Printf("micro %s\n", version)
		return nil
	case "ops":
		return listOps(os.Stdout)
	case "info":
		return info(ctx, os.Stdout, rest)
	case "run":
		return runModel(ctx, os.Stdout, rest)
	case "push":
		return push(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q (see micro -help)", cmd)
	}
}
