/*
 * Client registry.
 * Uses sync.Map for thread-safe access from multiple goroutines.
 */
package rtccore

import "sync"

// Clients: localID -> *Client
var clients sync.Map

// registerClient records a client, closing any previous client that
// claimed the same id.
func registerClient(localID string, c *Client) {
	if existing, ok := clients.Load(localID); ok && existing != c {
		existing.(*Client).Close()
	}
	clients.Store(localID, c)
}

// ClientFor returns the registered client for a participant id.
func ClientFor(localID string) *Client {
	if v, ok := clients.Load(localID); ok {
		return v.(*Client)
	}
	return nil
}

func unregisterClient(localID string) {
	clients.Delete(localID)
}

// CloseAll closes every registered client.
func CloseAll() {
	clients.Range(func(key, value interface{}) bool {
		if c, ok := value.(*Client); ok {
			c.Close()
		}
		clients.Delete(key)
		return true
	})
}
