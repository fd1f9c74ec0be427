package ws

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/utils/json"
)

// Codec holds the Op table of a gateway. It resolves the Op code of a frame
// first and only then decodes the payload with the schema of that code.
type Codec struct {
	Unmarshalers OpUnmarshalers
	Headers      http.Header
}

// NewCodec creates a new default Codec instance.
func NewCodec(unmarshalers OpUnmarshalers) Codec {
	return Codec{
		Unmarshalers: unmarshalers,
		Headers:      http.Header{},
	}
}

type wireOp struct {
	Code *OpCode `json:"op"`
	Data json.Raw `json:"d"`
}

// Decode decodes a single frame. It never fails: a frame that cannot be
// decoded becomes a BackgroundErrorEvent Op, and a frame with an Op code that
// is not in the table becomes an UnknownEvent Op.
func (c Codec) Decode(b []byte) Op {
	var op wireOp
	if err := json.Unmarshal(b, &op); err != nil {
		return newErrOp(err, "cannot decode gateway frame")
	}

	if op.Code == nil {
		return newErrOp(errors.New("frame has no op field"), "")
	}

	fn := c.Unmarshalers.Lookup(*op.Code)
	if fn == nil {
		return Op{
			Code: *op.Code,
			Data: &UnknownEvent{Code: *op.Code, Data: op.Data},
		}
	}

	ev := fn()
	if !op.Data.IsNull() {
		if err := json.Unmarshal(op.Data, ev); err != nil {
			return newErrOp(err, "cannot unmarshal JSON data from gateway")
		}
	}

	return Op{Code: *op.Code, Data: ev}
}

type encodedOp struct {
	Code OpCode      `json:"op"`
	Data interface{} `json:"d"`
}

// Encode encodes the given Event into a {"op", "d"} frame. The "d" field is
// always present and is null if ev carries no payload.
func (c Codec) Encode(ev Event) ([]byte, error) {
	op := encodedOp{Code: ev.Op(), Data: ev}
	if unknown, ok := ev.(*UnknownEvent); ok {
		op.Data = unknown.Data
	}

	b, err := json.Marshal(op)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode payload")
	}

	return b, nil
}

func newErrOp(err error, wrap string) Op {
	if wrap != "" {
		err = errors.Wrap(err, wrap)
	}

	ev := &BackgroundErrorEvent{Err: err}
	return Op{Code: ev.Op(), Data: ev}
}
