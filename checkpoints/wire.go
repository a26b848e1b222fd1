package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/emotrain/layers"
)

// Binary checkpoint layout, protobuf wire format:
//
//	Checkpoint: 1 spec JSON bytes, 2 repeated Weight, 3 State, 4 Metadata
//	Weight:     1 name, 2 packed shape varints, 3 packed fixed64 values
//	State:      1 phase, 2 epoch varint, 3 lr fixed64, 4 accuracy fixed64
//	Metadata:   1 run id, 2 created-at unix nanos varint, 3 description
const (
	fieldSpec     = 1
	fieldWeights  = 2
	fieldState    = 3
	fieldMetadata = 4

	weightName  = 1
	weightShape = 2
	weightData  = 3

	statePhase    = 1
	stateEpoch    = 2
	stateLR       = 3
	stateAccuracy = 4

	metaRunID       = 1
	metaCreatedAt   = 2
	metaDescription = 3
)

func marshalWire(c *Checkpoint) ([]byte, error) {
	specJSON, err := json.Marshal(c.ModelSpec)
	if err != nil {
		return nil, fmt.Errorf("encoding model spec: %w", err)
	}

	var buf []byte
	buf = protowire.AppendTag(buf, fieldSpec, protowire.BytesType)
	buf = protowire.AppendBytes(buf, specJSON)

	for _, w := range c.Weights {
		buf = protowire.AppendTag(buf, fieldWeights, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalWeight(w))
	}

	buf = protowire.AppendTag(buf, fieldState, protowire.BytesType)
	buf = protowire.AppendBytes(buf, marshalState(c.State))

	buf = protowire.AppendTag(buf, fieldMetadata, protowire.BytesType)
	buf = protowire.AppendBytes(buf, marshalMetadata(c.Metadata))

	return buf, nil
}

func marshalWeight(w WeightTensor) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, weightName, protowire.BytesType)
	buf = protowire.AppendString(buf, w.Name)

	var shape []byte
	for _, d := range w.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	buf = protowire.AppendTag(buf, weightShape, protowire.BytesType)
	buf = protowire.AppendBytes(buf, shape)

	var data []byte
	for _, v := range w.Data {
		data = protowire.AppendFixed64(data, math.Float64bits(v))
	}
	buf = protowire.AppendTag(buf, weightData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, data)

	return buf
}

func marshalState(s TrainingState) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, statePhase, protowire.BytesType)
	buf = protowire.AppendString(buf, s.Phase)
	buf = protowire.AppendTag(buf, stateEpoch, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(s.Epoch))
	buf = protowire.AppendTag(buf, stateLR, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, math.Float64bits(s.LearningRate))
	buf = protowire.AppendTag(buf, stateAccuracy, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, math.Float64bits(s.BestAccuracy))
	return buf
}

func marshalMetadata(m Metadata) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, metaRunID, protowire.BytesType)
	buf = protowire.AppendString(buf, m.RunID)
	buf = protowire.AppendTag(buf, metaCreatedAt, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.CreatedAt.UnixNano()))
	if m.Description != "" {
		buf = protowire.AppendTag(buf, metaDescription, protowire.BytesType)
		buf = protowire.AppendString(buf, m.Description)
	}
	return buf
}

func unmarshalWire(data []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("corrupt checkpoint: %v", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			return nil, fmt.Errorf("corrupt checkpoint: unexpected wire type %d for field %d", typ, num)
		}
		field, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("corrupt checkpoint: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldSpec:
			var spec layers.ModelSpec
			if err := json.Unmarshal(field, &spec); err != nil {
				return nil, fmt.Errorf("decoding model spec: %w", err)
			}
			c.ModelSpec = &spec
		case fieldWeights:
			w, err := unmarshalWeight(field)
			if err != nil {
				return nil, err
			}
			c.Weights = append(c.Weights, w)
		case fieldState:
			s, err := unmarshalState(field)
			if err != nil {
				return nil, err
			}
			c.State = s
		case fieldMetadata:
			m, err := unmarshalMetadata(field)
			if err != nil {
				return nil, err
			}
			c.Metadata = m
		}
	}
	if c.ModelSpec == nil {
		return nil, fmt.Errorf("corrupt checkpoint: missing model spec")
	}
	return c, nil
}

func unmarshalWeight(data []byte) (WeightTensor, error) {
	var w WeightTensor
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return w, fmt.Errorf("corrupt weight: %v", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			return w, fmt.Errorf("corrupt weight: unexpected wire type %d for field %d", typ, num)
		}
		field, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return w, fmt.Errorf("corrupt weight: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case weightName:
			w.Name = string(field)
		case weightShape:
			for len(field) > 0 {
				v, n := protowire.ConsumeVarint(field)
				if n < 0 {
					return w, fmt.Errorf("corrupt weight shape: %v", protowire.ParseError(n))
				}
				field = field[n:]
				w.Shape = append(w.Shape, int(v))
			}
		case weightData:
			if len(field)%8 != 0 {
				return w, fmt.Errorf("corrupt weight data: %d bytes", len(field))
			}
			w.Data = make([]float64, 0, len(field)/8)
			for len(field) > 0 {
				v, n := protowire.ConsumeFixed64(field)
				if n < 0 {
					return w, fmt.Errorf("corrupt weight data: %v", protowire.ParseError(n))
				}
				field = field[n:]
				w.Data = append(w.Data, math.Float64frombits(v))
			}
		}
	}
	return w, nil
}

func unmarshalState(data []byte) (TrainingState, error) {
	var s TrainingState
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, fmt.Errorf("corrupt training state: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == statePhase && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return s, fmt.Errorf("corrupt training state: %v", protowire.ParseError(n))
			}
			data = data[n:]
			s.Phase = string(v)
		case num == stateEpoch && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return s, fmt.Errorf("corrupt training state: %v", protowire.ParseError(n))
			}
			data = data[n:]
			s.Epoch = int(v)
		case num == stateLR && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return s, fmt.Errorf("corrupt training state: %v", protowire.ParseError(n))
			}
			data = data[n:]
			s.LearningRate = math.Float64frombits(v)
		case num == stateAccuracy && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return s, fmt.Errorf("corrupt training state: %v", protowire.ParseError(n))
			}
			data = data[n:]
			s.BestAccuracy = math.Float64frombits(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return s, fmt.Errorf("corrupt training state: %v", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return s, nil
}

func unmarshalMetadata(data []byte) (Metadata, error) {
	var m Metadata
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, fmt.Errorf("corrupt metadata: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == metaRunID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, fmt.Errorf("corrupt metadata: %v", protowire.ParseError(n))
			}
			data = data[n:]
			m.RunID = string(v)
		case num == metaCreatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, fmt.Errorf("corrupt metadata: %v", protowire.ParseError(n))
			}
			data = data[n:]
			m.CreatedAt = time.Unix(0, int64(v)).UTC()
		case num == metaDescription && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, fmt.Errorf("corrupt metadata: %v", protowire.ParseError(n))
			}
			data = data[n:]
			m.Description = string(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return m, fmt.Errorf("corrupt metadata: %v", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return m, nil
}
