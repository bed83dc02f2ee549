package decode

import (
	"fmt"

	"github.com/chazu/jfe/jarray"
)

// Record header words, in order.
const (
	wordFlag = iota
	wordType
	wordCount
	wordRank
	headerWords
)

// Binary captures the literal array bound to name in the engine's binary
// representation. Any other type fails with ErrTypeMismatch.
func Binary(src Describer, name string) (jarray.Raw, error) {
	p, err := src.DescribeCopy(name)
	if err != nil {
		return jarray.Raw{}, err
	}

	head, err := jarray.NewWindow(p, headerWords*jarray.WordSize)
	if err != nil {
		return jarray.Raw{}, fmt.Errorf("decode: %s header: %w", name, err)
	}
	words, err := head.Int64s(0, headerWords)
	if err != nil {
		return jarray.Raw{}, fmt.Errorf("decode: %s header: %w", name, err)
	}

	tag := jarray.TypeTag(words[wordType])
	if tag != jarray.Literal {
		return jarray.Raw{}, &TypeMismatchError{Name: name, Tag: tag}
	}
	rank, err := checkRank(name, words[wordRank])
	if err != nil {
		return jarray.Raw{}, err
	}
	count := words[wordCount]
	if count < 0 {
		return jarray.Raw{}, fmt.Errorf("decode: %s: %w: count %d", name, jarray.ErrBadExtent, count)
	}

	off := (headerWords + rank) * jarray.WordSize
	size, err := jarray.ByteSize(count, 1)
	if err != nil {
		return jarray.Raw{}, fmt.Errorf("decode: %s: %w", name, err)
	}
	rec, err := jarray.NewWindow(p, off+size)
	if err != nil {
		return jarray.Raw{}, fmt.Errorf("decode: %s record: %w", name, err)
	}

	shape, err := rec.Int64s(headerWords*jarray.WordSize, rank)
	if err != nil {
		return jarray.Raw{}, fmt.Errorf("decode: %s shape: %w", name, err)
	}
	n, err := jarray.Count(shape)
	if err != nil {
		return jarray.Raw{}, fmt.Errorf("decode: %s: %w", name, err)
	}
	if n != count {
		return jarray.Raw{}, fmt.Errorf("decode: %s: %w: count %d for shape %v", name, jarray.ErrBadExtent, count, shape)
	}
	payload, err := rec.Bytes(off, size)
	if err != nil {
		return jarray.Raw{}, fmt.Errorf("decode: %s payload: %w", name, err)
	}

	raw := jarray.Raw{
		Flag:    words[wordFlag],
		Rank:    rank,
		Type:    tag,
		Payload: payload,
	}
	if rank > 0 {
		raw.Shape = make([]uint64, rank)
		for i, d := range shape {
			raw.Shape[i] = uint64(d)
		}
	}
	log.Debugf("%s: %s", name, raw)
	return raw, nil
}
