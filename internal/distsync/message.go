package distsync

import (
	"crypto/rand"
	"encoding/hex"

	"overseer/internal/protocol"
)

// MessageType discriminates the sync message payloads.
type MessageType string

const (
	MsgProtocolUpdate   MessageType = "protocol_update"
	MsgProtocolDelete   MessageType = "protocol_delete"
	MsgActivationChange MessageType = "activation_change"
	MsgSyncRequest      MessageType = "sync_request"
	MsgSyncResponse     MessageType = "sync_response"
	MsgHeartbeat        MessageType = "heartbeat"
	MsgAck              MessageType = "ack"
	MsgNack             MessageType = "nack"
)

// InstanceInfo describes one live orchestrator instance.
type InstanceInfo struct {
	InstanceID    string   `json:"instanceId"` // 32 hex chars
	ProjectDir    string   `json:"projectDir"`
	StartedAt     string   `json:"startedAt"`
	LastHeartbeat string   `json:"lastHeartbeat"`
	Version       string   `json:"version"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// NewInstanceID returns a fresh 128-bit random instance id as 32 hex chars.
func NewInstanceID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails when the platform entropy source is broken.
		panic("distsync: cannot read random bytes: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// ProtocolUpdatePayload announces a registered or updated protocol.
type ProtocolUpdatePayload struct {
	Protocol        *protocol.Protocol `json:"protocol"`
	VersionVector   VersionVector      `json:"versionVector"`
	PreviousVersion string             `json:"previousVersion,omitempty"`
}

// ProtocolDeletePayload announces a deleted protocol.
type ProtocolDeletePayload struct {
	ID            string        `json:"id"`
	VersionVector VersionVector `json:"versionVector"`
	DeletedAt     string        `json:"deletedAt"`
}

// ActivationChangePayload announces an activation or deactivation.
type ActivationChangePayload struct {
	ID            string        `json:"id"`
	Active        bool          `json:"active"`
	VersionVector VersionVector `json:"versionVector"`
}

// SyncRequestPayload asks peers for their registry contents.
type SyncRequestPayload struct {
	RequestedProtocols   []string      `json:"requestedProtocols,omitempty"`
	CurrentVersionVector VersionVector `json:"currentVersionVector"`
}

// SyncResponsePayload answers a sync request.
type SyncResponsePayload struct {
	Protocols       []*protocol.Protocol `json:"protocols"`
	ActiveProtocols []string             `json:"activeProtocols"`
	VersionVector   VersionVector        `json:"versionVector"`
	InResponseTo    string               `json:"inResponseTo"`
}

// HeartbeatPayload keeps the known-instances map fresh.
type HeartbeatPayload struct {
	Instance      InstanceInfo `json:"instance"`
	ProtocolCount int          `json:"protocolCount"`
	ActiveCount   int          `json:"activeCount"`
}

// AckPayload acknowledges a processed message.
type AckPayload struct {
	InResponseTo string `json:"inResponseTo"`
	Status       string `json:"status"` // "applied"
}

// NackPayload refuses a message.
type NackPayload struct {
	InResponseTo string `json:"inResponseTo"`
	Reason       string `json:"reason"` // e.g. "outdated"
}

// Envelope is the wire format of every sync message. Exactly one payload
// field matching Type is set.
type Envelope struct {
	MessageID      string      `json:"messageId"` // RFC-4122 v4 UUID
	Type           MessageType `json:"type"`
	SourceInstance string      `json:"sourceInstance"`
	TargetInstance string      `json:"targetInstance,omitempty"` // empty = broadcast
	Timestamp      string      `json:"timestamp"`
	SequenceNumber uint64      `json:"sequenceNumber"`

	ProtocolUpdate   *ProtocolUpdatePayload   `json:"protocolUpdate,omitempty"`
	ProtocolDelete   *ProtocolDeletePayload   `json:"protocolDelete,omitempty"`
	ActivationChange *ActivationChangePayload `json:"activationChange,omitempty"`
	SyncRequest      *SyncRequestPayload      `json:"syncRequest,omitempty"`
	SyncResponse     *SyncResponsePayload     `json:"syncResponse,omitempty"`
	Heartbeat        *HeartbeatPayload        `json:"heartbeat,omitempty"`
	Ack              *AckPayload              `json:"ack,omitempty"`
	Nack             *NackPayload             `json:"nack,omitempty"`
}
