// Package proxy implements the caching query proxy engine: the backend
// refresh loops, the challenge handshake exchange, the client dispatcher
// and listener, and the orchestration tying them together.
package proxy
