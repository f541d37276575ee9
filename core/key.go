package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Key identifies a logical load: the model, the requested size and the
// pipeline that turns its bytes into a resource. Keys are comparable and are
// used directly as map keys.
type Key struct {
	ModelID          string
	Width            int
	Height           int
	CacheDecoderID   string
	DecoderID        string
	TransformationID string
	EncoderID        string
}

// KeyFor derives the key of req. Missing capabilities contribute "".
func KeyFor(req LoadRequest) Key {
	k := Key{ModelID: req.ModelID, Width: req.Width, Height: req.Height}
	if req.CacheDecoder != nil {
		k.CacheDecoderID = req.CacheDecoder.ID()
	} else if req.Decoder != nil {
		k.CacheDecoderID = req.Decoder.ID()
	}
	if req.Decoder != nil {
		k.DecoderID = req.Decoder.ID()
	}
	if req.Transformation != nil {
		k.TransformationID = req.Transformation.ID()
	}
	if req.Encoder != nil {
		k.EncoderID = req.Encoder.ID()
	}
	return k
}

// String renders k with every string component length-prefixed, so distinct
// keys never render the same.
func (k Key) String() string {
	var b strings.Builder
	writePart := func(s string) {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
		b.WriteByte(';')
	}
	writePart(k.ModelID)
	b.WriteString(strconv.Itoa(k.Width))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(k.Height))
	b.WriteByte(';')
	writePart(k.CacheDecoderID)
	writePart(k.DecoderID)
	writePart(k.TransformationID)
	writePart(k.EncoderID)
	return b.String()
}

// SafeKey is the hex SHA-256 of String. Disk caches store entries under it.
func (k Key) SafeKey() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}
