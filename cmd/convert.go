package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachesim/cachesim/sim/results"
)

var (
	convertIn   string // Source result file
	convertFrom string // Source format; inferred from the extension when empty
	convertOut  string // Destination result file
	convertTo   string // Destination format
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Re-encode a result file in another format",
	Long:  "Decode a result file written by 'cachesim run' and write the same result set in another format (e.g. MSGPACK to CSV for spreadsheets).",
	Run: func(cmd *cobra.Command, args []string) {
		out, err := convertResults(results.DefaultFormats(), convertIn, convertFrom, convertOut, convertTo)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Wrote %s", out)
	},
}

// formatForPath resolves an explicit format name, or infers it from the
// file extension.
func formatForPath(formats *results.Formats, name, path string) (results.Serializer, error) {
	if name != "" {
		return formats.Lookup(name)
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, n := range formats.Names() {
		s, err := formats.Lookup(n)
		if err != nil {
			return nil, err
		}
		if s.Extension() == ext {
			return s, nil
		}
	}
	return nil, fmt.Errorf("cannot infer result format from %q; pass it explicitly", path)
}

// convertResults loads in and persists it with the target format. When out
// is empty it is derived from in with the target extension.
func convertResults(formats *results.Formats, in, from, out, to string) (string, error) {
	src, err := formatForPath(formats, from, in)
	if err != nil {
		return "", err
	}
	dst, err := formats.Lookup(to)
	if err != nil {
		return "", err
	}
	rs, err := results.Load(in, src)
	if err != nil {
		return "", err
	}
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + dst.Extension()
	}
	if out == in {
		return "", fmt.Errorf("refusing to overwrite input %s", in)
	}
	rs.Format = dst.Name()
	if err := results.Persist(rs, out, dst); err != nil {
		return "", err
	}
	return out, nil
}

func init() {
	convertCmd.Flags().StringVar(&convertIn, "in", "", "Result file to read")
	convertCmd.Flags().StringVar(&convertFrom, "from", "", "Input format (default: inferred from extension)")
	convertCmd.Flags().StringVar(&convertOut, "out", "", "Output file (default: input with the new extension)")
	convertCmd.Flags().StringVar(&convertTo, "to", "CSV", "Output format")
	_ = convertCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(convertCmd)
}
