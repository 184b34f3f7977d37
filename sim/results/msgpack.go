package results

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackSerializer is the default binary format. Metrics and configs are
// normalized before they reach a ResultSet, and loose interface decoding maps
// them back to the same canonical types, so a round trip is exact.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Name() string      { return "MSGPACK" }
func (MsgpackSerializer) Extension() string { return ".msgpack" }

func (MsgpackSerializer) Encode(w io.Writer, rs *ResultSet) error {
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	return enc.Encode(rs)
}

func (MsgpackSerializer) Decode(r io.Reader) (*ResultSet, error) {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	var rs ResultSet
	if err := dec.Decode(&rs); err != nil {
		return nil, err
	}
	return &rs, nil
}
