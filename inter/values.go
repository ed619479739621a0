package inter

import (
	"fmt"
	"math"

	"github.com/rony4d/go-ftso-provider/utils/fast"
)

const (
	// ValueSlotSize is the width of one price slot in an encoded price vector.
	ValueSlotSize = 4

	// valueOffset shifts signed values into the unsigned slot range so that
	// the all-zero slot can mean "no value".
	valueOffset = int64(1) << 31
)

// FeedValue is one decoded slot of a price vector.
type FeedValue struct {
	Feed    Feed  `json:"feed"`
	Value   int32 `json:"value"`
	IsEmpty bool  `json:"isEmpty"`
}

// EncodeValues serializes values in the given order. A nil entry produces an
// empty slot. math.MinInt32 cannot be represented since it collides with the
// empty slot.
func EncodeValues(values []*int32) ([]byte, error) {
	w := fast.NewWriter(make([]byte, 0, len(values)*ValueSlotSize))
	for i, v := range values {
		if v == nil {
			w.WriteUint32(0)
			continue
		}
		if *v == math.MinInt32 {
			return nil, fmt.Errorf("value at slot %d is out of range", i)
		}
		w.WriteUint32(uint32(int64(*v) + valueOffset))
	}
	return w.Bytes(), nil
}

// DecodeValues reads one slot per feed. Feeds beyond the end of data decode
// as empty, trailing slots without a feed are ignored.
func DecodeValues(data []byte, feeds []Feed) ([]FeedValue, error) {
	if len(data)%ValueSlotSize != 0 {
		return nil, fmt.Errorf("%w: price vector length %d is not a multiple of %d", ErrDecode, len(data), ValueSlotSize)
	}
	r := fast.NewReader(data)
	res := make([]FeedValue, len(feeds))
	for i, feed := range feeds {
		res[i].Feed = feed
		if r.Empty() {
			res[i].IsEmpty = true
			continue
		}
		slot, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if slot == 0 {
			res[i].IsEmpty = true
			continue
		}
		res[i].Value = int32(int64(slot) - valueOffset)
	}
	return res, nil
}
