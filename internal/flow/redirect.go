package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/flint/internal/kv"
	"github.com/foxzi/flint/internal/vars"
)

type TransferMethod string

const (
	TransferLocalStorage   TransferMethod = "local_storage"
	TransferSessionStorage TransferMethod = "session_storage"
	TransferQuery          TransferMethod = "query"
	TransferPostMessage    TransferMethod = "post_message"
)

const (
	TransferTokenParam  = "flint_transfer"
	DefaultStorageKey   = "flint_data"
	DefaultMaxURLLength = 2000
	DefaultTransferTTL  = 10 * time.Minute
)

var (
	ErrTransferNotFound = errors.New("transfer not found or already used")
	ErrUnsafeURL        = errors.New("redirect url must be http or https")
)

// Transfer tells the browser how to hand variables to the next page.
type Transfer struct {
	Method  TransferMethod    `json:"method"`
	URL     string            `json:"url"`
	Key     string            `json:"key,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Token   string            `json:"token,omitempty"`
}

// TransferIssuer parks a payload behind a one-time token.
type TransferIssuer interface {
	Issue(ctx context.Context, payload map[string]string) (string, error)
}

// BuildTransfer resolves the redirect target and packages the selected
// variables for the configured method. Query transfers that would exceed
// the URL length limit carry a token instead of the values.
func BuildTransfer(ctx context.Context, cfg RedirectConfig, v vars.Vars, issuer TransferIssuer) (Transfer, error) {
	target := vars.InterpolateURL(cfg.URL, v)
	u, err := url.Parse(target)
	if err != nil {
		return Transfer{}, fmt.Errorf("invalid redirect url: %w", err)
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return Transfer{}, ErrUnsafeURL
	}

	payload := selectVars(v, cfg.Variables)
	method := cfg.Method
	if method == "" {
		method = TransferQuery
	}

	switch method {
	case TransferLocalStorage, TransferSessionStorage:
		key := cfg.StorageKey
		if key == "" {
			key = DefaultStorageKey
		}
		return Transfer{Method: method, URL: target, Key: key, Payload: payload}, nil

	case TransferQuery:
		limit := cfg.MaxURLLength
		if limit <= 0 {
			limit = DefaultMaxURLLength
		}

		q := u.Query()
		for k, val := range payload {
			q.Set(k, val)
		}
		withValues := *u
		withValues.RawQuery = q.Encode()
		if full := withValues.String(); len(full) <= limit {
			return Transfer{Method: method, URL: full}, nil
		}

		token, err := issue(ctx, issuer, payload)
		if err != nil {
			return Transfer{}, err
		}
		q = u.Query()
		q.Set(TransferTokenParam, token)
		withToken := *u
		withToken.RawQuery = q.Encode()
		return Transfer{Method: method, URL: withToken.String(), Token: token}, nil

	case TransferPostMessage:
		token, err := issue(ctx, issuer, payload)
		if err != nil {
			return Transfer{}, err
		}
		return Transfer{Method: method, URL: target, Payload: payload, Token: token}, nil
	}

	return Transfer{}, fmt.Errorf("%w: unknown transfer method %q", ErrBadConfig, method)
}

func issue(ctx context.Context, issuer TransferIssuer, payload map[string]string) (string, error) {
	if issuer == nil {
		return "", fmt.Errorf("%w: no transfer issuer", ErrBadConfig)
	}
	return issuer.Issue(ctx, payload)
}

func selectVars(v vars.Vars, names []string) map[string]string {
	if len(names) == 0 {
		return v.Strings()
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		if val, ok := v[name]; ok {
			out[name] = vars.FormatValue(val)
		}
	}
	return out
}

// KVTransferIssuer keeps payloads in a kv store until redeemed or expired.
type KVTransferIssuer struct {
	store kv.Store
	ttl   time.Duration
}

func NewKVTransferIssuer(store kv.Store, ttl time.Duration) *KVTransferIssuer {
	if ttl <= 0 {
		ttl = DefaultTransferTTL
	}
	return &KVTransferIssuer{store: store, ttl: ttl}
}

func (i *KVTransferIssuer) Issue(ctx context.Context, payload map[string]string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer: %w", err)
	}
	token := uuid.NewString()
	if err := i.store.Set(ctx, transferKey(token), data, i.ttl); err != nil {
		return "", fmt.Errorf("failed to store transfer: %w", err)
	}
	return token, nil
}

// Redeem returns the payload for token and removes it.
func (i *KVTransferIssuer) Redeem(ctx context.Context, token string) (map[string]string, error) {
	data, err := i.store.Take(ctx, transferKey(token))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume transfer: %w", err)
	}

	var payload map[string]string
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode transfer: %w", err)
	}
	return payload, nil
}

func transferKey(token string) string {
	return "transfer:" + token
}
