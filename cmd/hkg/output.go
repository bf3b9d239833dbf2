package main

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputYAML = "yaml"
)

func addOutputFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVarP(format, "output", "o", outputText, "output format: text or yaml")
}

func checkOutput(format string) error {
	switch format {
	case outputText, outputYAML:
		return nil
	}
	return usageError("unknown output format %q (want text or yaml)", format)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// orderedMap builds a mapping that keeps pairs in the given order. Values
// are always strings, so versions like 1.10 are not read back as numbers.
func orderedMap(pairs [][2]string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range pairs {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p[0]},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p[1]},
		)
	}
	return node
}
