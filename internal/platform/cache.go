package platform

import "sync"

// ClientCache hands out one Client per bot token. Clients are stateless
// HTTP wrappers, so a single instance per token is shared by all callers.
type ClientCache struct {
	mu      sync.Mutex
	clients map[string]Client
	factory func(token string) (Client, error)
}

// NewClientCache creates a cache backed by NewTelegramClient.
func NewClientCache() *ClientCache {
	return &ClientCache{
		clients: make(map[string]Client),
		factory: NewTelegramClient,
	}
}

// NewClientCacheWithFactory creates a cache with a custom client
// constructor, used by tests to substitute fakes.
func NewClientCacheWithFactory(factory func(token string) (Client, error)) *ClientCache {
	return &ClientCache{
		clients: make(map[string]Client),
		factory: factory,
	}
}

// Get returns the cached Client for token, creating it on first use.
func (c *ClientCache) Get(token string) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[token]; ok {
		return client, nil
	}
	client, err := c.factory(token)
	if err != nil {
		return nil, err
	}
	c.clients[token] = client
	return client, nil
}

// Forget drops the cached Client for token, forcing recreation on the
// next Get. Called after a bot's token is rotated or the bot is removed.
func (c *ClientCache) Forget(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, token)
}
