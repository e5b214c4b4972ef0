// Package persistence stores the last known subscription snapshot.
package persistence

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/internal/shared/infrastructure/crypto"
)

// Codec converts a cached record to and from its stored bytes.
type Codec interface {
	Marshal(cached domain.CachedSnapshot) ([]byte, error)
	Unmarshal(data []byte) (*domain.CachedSnapshot, error)
}

// JSONCodec stores records as plain JSON.
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(cached domain.CachedSnapshot) ([]byte, error) {
	return json.Marshal(cached)
}

// Unmarshal implements Codec. Undecodable data is an integrity error.
func (JSONCodec) Unmarshal(data []byte) (*domain.CachedSnapshot, error) {
	var cached domain.CachedSnapshot
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, domain.NewIntegrityError(err, "decode cached subscription")
	}
	return &cached, nil
}

// SealedCodec encrypts the output of another codec.
type SealedCodec struct {
	inner  Codec
	sealer crypto.Sealer
}

// NewSealedCodec wraps inner; a nil inner means JSONCodec.
func NewSealedCodec(inner Codec, sealer crypto.Sealer) *SealedCodec {
	if inner == nil {
		inner = JSONCodec{}
	}
	return &SealedCodec{inner: inner, sealer: sealer}
}

// Marshal implements Codec.
func (c *SealedCodec) Marshal(cached domain.CachedSnapshot) ([]byte, error) {
	plain, err := c.inner.Marshal(cached)
	if err != nil {
		return nil, err
	}
	return c.sealer.Seal(plain)
}

// Unmarshal implements Codec. A record that fails authentication, for
// example one written under another key, is an integrity error.
func (c *SealedCodec) Unmarshal(data []byte) (*domain.CachedSnapshot, error) {
	plain, err := c.sealer.Open(data)
	if err != nil {
		return nil, domain.NewIntegrityError(errors.Wrap(err, "open sealed record"), "decode cached subscription")
	}
	return c.inner.Unmarshal(plain)
}

// Option configures a snapshot cache.
type Option func(*options)

type options struct {
	codec Codec
}

// WithCodec replaces the default JSON codec.
func WithCodec(codec Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{codec: JSONCodec{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
