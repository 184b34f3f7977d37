package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachesim/cachesim/sim/experiment"
	"github.com/cachesim/cachesim/sim/tree"
)

var flattenYAML bool // Re-emit the parsed experiments as YAML instead

var flattenCmd = &cobra.Command{
	Use:   "flatten [descriptor file]",
	Short: "Print every experiment of a descriptor as dotted path = value lines",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		trees, err := experiment.LoadFile(args[0])
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := writeFlat(os.Stdout, trees, flattenYAML); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// writeFlat prints trees either as canonical YAML or as one block of
// "path = value" lines per experiment, headed by the experiment id.
func writeFlat(w io.Writer, trees []*tree.Tree, asYAML bool) error {
	if asYAML {
		out, err := experiment.MarshalYAML(trees)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
	q := experiment.NewQueue()
	for i, t := range trees {
		e := q.Append(t)
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "# %s\n", e.ID())
		for _, entry := range t.Flatten() {
			fmt.Fprintln(w, entry)
		}
	}
	return nil
}

func init() {
	flattenCmd.Flags().BoolVar(&flattenYAML, "yaml", false, "Print canonical YAML instead of flat entries")
	rootCmd.AddCommand(flattenCmd)
}
