package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/foxzi/flint/internal/flow"
	"github.com/foxzi/flint/internal/kv"
	"github.com/foxzi/flint/internal/vars"
)

// Session is one visitor run of a published campaign.
type Session struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id"`
	LeadID      string            `json:"lead_id,omitempty"`
	State       flow.State        `json:"state"`
	LogicErrors map[string]string `json:"logic_errors,omitempty"`
	// Uploads holds the files stored per upload section in this session.
	Uploads map[string][]vars.FileDescriptor `json:"uploads,omitempty"`
	Finished    bool              `json:"finished"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func sessionKey(id string) string {
	return "session:" + id
}

type sessionStore struct {
	store kv.Store
	ttl   time.Duration
	locks [64]sync.Mutex
}

func (s *sessionStore) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &s.locks[h.Sum32()%uint32(len(s.locks))]
	m.Lock()
	return m.Unlock
}

func (s *sessionStore) get(ctx context.Context, id string) (*Session, error) {
	data, err := s.store.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

func (s *sessionStore) put(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.store.Set(ctx, sessionKey(sess.ID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
