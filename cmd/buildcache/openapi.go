package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/gophersatwork/buildcache/openapi"
)

var indexCmd = &cobra.Command{
	Use:   "index <spec>",
	Short: "Print the operation index of an OpenAPI document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := buildIndex(args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd, index)
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Print the operations added, removed and changed between two OpenAPI documents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		old, err := buildIndex(args[0])
		if err != nil {
			return err
		}
		current, err := buildIndex(args[1])
		if err != nil {
			return err
		}
		return writeJSON(cmd, openapi.Compare(old, current))
	},
}

func buildIndex(path string) (openapi.Index, error) {
	index, err := openapi.NewIndexer(openapi.WithFs(afero.NewOsFs())).Build(path)
	if err != nil {
		return nil, err
	}
	if index == nil {
		return nil, fmt.Errorf("%s does not exist", path)
	}
	return index, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(diffCmd)
}
