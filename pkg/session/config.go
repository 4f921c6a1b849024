package session

import (
	"fmt"
	"log/slog"

	"github.com/gematik/zero-gate/pkg/config"
	"github.com/gorilla/securecookie"
	"github.com/valkey-io/valkey-go"
)

// NewStoreFromConfig builds the store and its backend. The returned func
// releases backend resources.
func NewStoreFromConfig(cfg config.SessionConfig) (*Store, Backend, func(), error) {
	var (
		backend Backend
		closer  = func() {}
	)
	switch cfg.Store {
	case "valkey":
		client, err := valkey.NewClient(valkey.ClientOption{
			InitAddress: []string{cfg.Valkey.Address},
			Username:    cfg.Valkey.Username,
			Password:    cfg.Valkey.Password.Value(),
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating valkey client: %w", err)
		}
		backend = NewValkeyBackend(client, cfg.Valkey.Prefix)
		closer = client.Close
		slog.Info("Using valkey session store", "address", cfg.Valkey.Address)
	default:
		backend = NewMemoryBackend()
		slog.Info("Using in-memory session store")
	}

	secret := []byte(cfg.Secret.Value())
	if len(secret) == 0 {
		slog.Warn("No session secret configured, sessions will not survive a restart")
		secret = securecookie.GenerateRandomKey(32)
	}

	store := NewStore(backend, cfg.InactivityTimeout, secret)
	store.Options.Secure = cfg.Secure
	store.Options.SameSite = cfg.SameSite()

	return store, backend, closer, nil
}
