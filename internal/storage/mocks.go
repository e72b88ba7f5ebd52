package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MockRedisClient is an in-memory RedisClient for testing
type MockRedisClient struct {
	mu     sync.Mutex
	Values map[string]string
	Hashes map[string]map[string]string

	// When set, every call fails with this error
	Err error
}

// NewMockRedisClient creates a MockRedisClient
func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		Values: make(map[string]string),
		Hashes: make(map[string]map[string]string),
	}
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Values[key] = fmt.Sprintf("%v", value)
	return nil
}

func (m *MockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.Values[key]
	if !ok {
		return "", redis.Nil
	}
	return val, nil
}

func (m *MockRedisClient) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Values[key]; ok {
		return false, nil
	}
	m.Values[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (m *MockRedisClient) Delete(ctx context.Context, key string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Values, key)
	return nil
}

func (m *MockRedisClient) HSet(ctx context.Context, key string, field string, value interface{}) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Hashes[key] == nil {
		m.Hashes[key] = make(map[string]string)
	}
	m.Hashes[key][field] = fmt.Sprintf("%v", value)
	return nil
}

func (m *MockRedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]string, len(m.Hashes[key]))
	for k, v := range m.Hashes[key] {
		result[k] = v
	}
	return result, nil
}

func (m *MockRedisClient) Close() error {
	return nil
}
