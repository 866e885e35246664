// Package protocol implements the A2S query wire format: decoding inbound
// datagrams into a closed message set and encoding the requests and
// challenge replies the proxy originates.
package protocol
