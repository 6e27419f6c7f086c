package websocket

import (
	"context"

	"github.com/conneroisu/tally/internal/decode"
	"github.com/conneroisu/tally/internal/renderer"
)

// Frame types sent to browsers.
const (
	FrameSnapshot = "snapshot"
	FramePatch    = "patch"
	FrameError    = "error"
)

// Frame is one message sent to a browser. A snapshot carries the whole
// mounted tree; a patch carries the subtrees that changed in one frame.
// Browsers apply patches in Seq order and ignore those not newer than the
// snapshot they hold.
type Frame struct {
	Type    string        `json:"type"`
	Seq     uint64        `json:"seq"`
	HTML    string        `json:"html,omitempty"`
	Changes []FrameChange `json:"changes,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// FrameChange replaces the node at Path below the mount point. Text nodes
// are sent as Text, elements as HTML.
type FrameChange struct {
	Path []int  `json:"path"`
	HTML string `json:"html,omitempty"`
	Text string `json:"text,omitempty"`
	Kind string `json:"kind"`
}

// ClientEvent is a host event reported by a browser.
type ClientEvent struct {
	Path    []int
	Type    string
	Payload any
}

// ClientEventDecoder decodes {"path":[..],"type":"..","payload":..}.
var ClientEventDecoder = decode.Map3(
	decode.Field("path", decode.List(decode.Int())),
	decode.Field("type", decode.String()),
	decode.Optional("payload", decode.Value(), nil),
	func(path []int, eventType string, payload any) ClientEvent {
		return ClientEvent{Path: path, Type: eventType, Payload: payload}
	},
)

// Source is the program the bridge mirrors.
type Source interface {
	// SnapshotFrame returns the serialized tree and the last frame it
	// includes.
	SnapshotFrame() (string, uint64, error)
	HandleEvent(ctx context.Context, path []int, eventType string, payload any) (renderer.Result, error)
}

// OriginValidator decides which browser origins may connect.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// RateLimiter limits how many events one client may send.
type RateLimiter interface {
	Allow() bool
	Reset()
}
