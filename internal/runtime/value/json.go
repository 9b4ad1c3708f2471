package value

import (
	"encoding/hex"
	"fmt"

	"github.com/drblury/p4flow/internal/runtime/jsoncodec"
)

// jsonValue is the exported shape of a TypedValue. Bit payloads are hex so
// forwarded digests stay readable next to packet captures.
type jsonValue struct {
	Kind    string        `json:"kind"`
	Bool    *bool         `json:"bool,omitempty"`
	Bits    string        `json:"bits,omitempty"`
	Width   uint32        `json:"width,omitempty"`
	Members []*TypedValue `json:"members,omitempty"`
}

func (v *TypedValue) MarshalJSON() ([]byte, error) {
	out := jsonValue{Kind: v.Kind().String()}
	switch v.Kind() {
	case KindBool:
		b := v.b
		out.Bool = &b
	case KindBitstring:
		out.Bits = hex.EncodeToString(v.bits)
	case KindVarbit:
		out.Bits = hex.EncodeToString(v.bits)
		out.Width = v.width
	case KindRecord, KindTuple:
		out.Members = v.members
	}
	return jsoncodec.Marshal(out)
}

func (v *TypedValue) UnmarshalJSON(data []byte) error {
	var in jsonValue
	if err := jsoncodec.Unmarshal(data, &in); err != nil {
		return err
	}

	var bits []byte
	if in.Bits != "" {
		decoded, err := hex.DecodeString(in.Bits)
		if err != nil {
			return fmt.Errorf("p4flow: value bits: %w", err)
		}
		bits = decoded
	}

	switch in.Kind {
	case "", "unset":
		*v = TypedValue{}
	case "bool":
		*v = TypedValue{kind: KindBool, b: in.Bool != nil && *in.Bool}
	case "bitstring":
		*v = *Bitstring(bits)
	case "varbit":
		*v = *Varbit(bits, in.Width)
	case "record":
		*v = *Record(in.Members...)
	case "tuple":
		*v = *Tuple(in.Members...)
	default:
		return fmt.Errorf("p4flow: unknown value kind %q", in.Kind)
	}
	return nil
}
