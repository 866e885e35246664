// Package cache provides the waitable response store shared by the
// backend refresh loops (writers) and the client dispatcher (reader).
package cache
