// Package transport owns the UDP sockets: a listening link for client
// traffic and connected links to the backend, with deadline-bounded
// decoded receives.
package transport
