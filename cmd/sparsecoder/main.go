// Package main provides the sparsecoder CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sparsecoder-ml/sparsecoder/backend/cpu"
	"github.com/sparsecoder-ml/sparsecoder/sae"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("sparsecoder %s\n", version)
			return
		case "inspect":
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "usage: sparsecoder inspect <checkpoint-dir>")
				os.Exit(2)
			}
			if err := inspect(os.Args[2]); err != nil {
				fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	fmt.Println("sparsecoder - sparse autoencoders for activation interpretability")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version              Show version")
	fmt.Println("  inspect <dir>        Summarize a checkpoint directory")
}

// inspect loads a checkpoint and prints its config and parameter shapes.
func inspect(dir string) error {
	backend := cpu.New()

	model, err := sae.LoadFromPretrained(dir, backend)
	if err != nil {
		return err
	}

	cfgJSON, err := json.MarshalIndent(model.Config(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s\n\n", model.GetName(), cfgJSON)

	for _, p := range model.Parameters() {
		fmt.Printf("  %-16s %v\n", p.Name(), p.Tensor().Shape())
	}

	sparsity, err := sae.LoadSparsity(dir, backend)
	if err != nil {
		return err
	}
	if sparsity != nil {
		fmt.Printf("  %-16s %v\n", "sparsity", sparsity.Shape())
	}

	return nil
}
