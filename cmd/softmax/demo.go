package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-softmax/internal/engine"
	"github.com/23skdu/longbow-softmax/internal/tensor"
)

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Print softmax of a small example batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDemo(cmd.OutOrStdout())
		},
	}
}

func (a *app) runDemo(w io.Writer) error {
	input, err := tensor.New([]float32{0, 1, 0, 1, -2, 2, 3, -3}, 2, 4)
	if err != nil {
		return err
	}
	output, err := engine.New(a.driver).Softmax(input, -1)
	if err != nil {
		return err
	}

	for _, t := range []*tensor.Tensor{input, output} {
		if err := printTensor(w, t); err != nil {
			return err
		}
	}
	return nil
}

func printTensor(w io.Writer, t *tensor.Tensor) error {
	vals, err := tensor.ToSlice[float32](t)
	if err != nil {
		return err
	}
	rows, width, err := t.Shape().Dims2()
	if err != nil {
		return err
	}

	fmt.Fprint(w, "[")
	for r := 0; r < rows; r++ {
		if r > 0 {
			fmt.Fprint(w, ",\n ")
		}
		fmt.Fprint(w, "[")
		for i, v := range vals[r*width : (r+1)*width] {
			if i > 0 {
				fmt.Fprint(w, ", ")
			}
			fmt.Fprintf(w, "%7.4f", v)
		}
		fmt.Fprint(w, "]")
	}
	_, err = fmt.Fprintf(w, "]\nTensor[%d, %d; %s]\n", rows, width, t.DType())
	return err
}
