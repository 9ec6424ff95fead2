package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// keyFields are tried in order when a secret holds a JSON object.
var keyFields = []string{"OPENAI_API_KEY", "openai_api_key", "api_key"}

var ErrNoDefaultKey = errors.New("no default API key configured")

// StaticKey is a key taken from the environment.
type StaticKey string

func (k StaticKey) DefaultKey(ctx context.Context) (string, error) {
	if k == "" {
		return "", ErrNoDefaultKey
	}
	return string(k), nil
}

// SecretKey reads the default key from a secret store. The secret is either
// the bare key or a JSON object carrying it.
type SecretKey struct {
	store SecretStore
	name  string
}

func NewSecretKey(store SecretStore, name string) *SecretKey {
	return &SecretKey{store: store, name: name}
}

func (k *SecretKey) DefaultKey(ctx context.Context) (string, error) {
	raw, err := k.store.GetSecret(ctx, k.name)
	if err != nil {
		return "", err
	}
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		var fields map[string]string
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return "", err
		}
		for _, f := range keyFields {
			if v := fields[f]; v != "" {
				return v, nil
			}
		}
		return "", ErrNoDefaultKey
	}

	if raw == "" {
		return "", ErrNoDefaultKey
	}
	return raw, nil
}

type KeySource interface {
	DefaultKey(ctx context.Context) (string, error)
}

// Chain returns the first key any source yields.
type Chain []KeySource

func (c Chain) DefaultKey(ctx context.Context) (string, error) {
	var errs []error
	for _, src := range c {
		key, err := src.DefaultKey(ctx)
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return "", ErrNoDefaultKey
	}
	return "", errors.Join(errs...)
}
