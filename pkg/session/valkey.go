package session

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyBackend keeps sessions in valkey so that several instances can share them.
type ValkeyBackend struct {
	client valkey.Client
	prefix string
}

func NewValkeyBackend(client valkey.Client, prefix string) *ValkeyBackend {
	return &ValkeyBackend{
		client: client,
		prefix: prefix,
	}
}

func (b *ValkeyBackend) key(id string) string {
	return b.prefix + id
}

func (b *ValkeyBackend) Load(ctx context.Context, id string, ttl time.Duration) (map[string]string, error) {
	key := b.key(id)
	results := b.client.DoMulti(ctx,
		b.client.B().Get().Key(key).Build(),
		b.client.B().Expire().Key(key).Seconds(ttlSeconds(ttl)).Build(),
	)

	data, err := results[0].AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session from valkey: %w", err)
	}
	if err := results[1].Error(); err != nil {
		return nil, fmt.Errorf("refreshing session expiry in valkey: %w", err)
	}

	return decodeValues(data)
}

func (b *ValkeyBackend) Save(ctx context.Context, id string, values map[string]string, ttl time.Duration) error {
	data, err := encodeValues(values)
	if err != nil {
		return err
	}
	cmd := b.client.B().Set().Key(b.key(id)).Value(valkey.BinaryString(data)).Ex(ttl).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("storing session in valkey: %w", err)
	}
	return nil
}

func (b *ValkeyBackend) Delete(ctx context.Context, id string) error {
	cmd := b.client.B().Del().Key(b.key(id)).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("deleting session from valkey: %w", err)
	}
	return nil
}

func ttlSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
