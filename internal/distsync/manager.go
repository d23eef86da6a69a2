package distsync

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"overseer/internal/logging"
	"overseer/internal/protocol"
	"overseer/internal/state"
)

// Config tunes the sync manager's periods and retry behaviour.
type Config struct {
	HeartbeatInterval time.Duration // default 30s
	MessageRetention  time.Duration // default 5m
	InstanceTimeout   time.Duration // default 90s
	MaxRetries        int           // default 3
	RetryDelay        time.Duration // default 10s
	Version           string        // advertised in heartbeats
	Capabilities      []string
}

// DefaultConfig returns the shipped sync defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		MessageRetention:  5 * time.Minute,
		InstanceTimeout:   90 * time.Second,
		MaxRetries:        3,
		RetryDelay:        10 * time.Second,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MessageRetention <= 0 {
		c.MessageRetention = d.MessageRetention
	}
	if c.InstanceTimeout <= 0 {
		c.InstanceTimeout = d.InstanceTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
}

// pendingAck tracks a broadcast awaiting acknowledgement.
type pendingAck struct {
	envelope *Envelope
	sentAt   time.Time
	retries  int
}

// UpdateCallback is invoked after an incoming change has been applied to
// the local registry.
type UpdateCallback func(kind MessageType, protocolID string)

// Manager owns this instance's version vector, its liveness record and the
// message flow with peer instances.
type Manager struct {
	instanceID string
	projectDir string
	transport  *Transport
	registry   *protocol.Registry
	cfg        Config
	logger     *logging.Logger

	mu          sync.Mutex
	vector      VersionVector
	seq         uint64
	pendingAcks map[string]*pendingAck
	processed   map[string]time.Time
	instances   map[string]*InstanceInfo
	startedAt   string
	onUpdate    UpdateCallback

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager returns an unstarted Manager for the given project layout.
func NewManager(layout state.Layout, registry *protocol.Registry, cfg Config, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	cfg.fillDefaults()
	id := NewInstanceID()
	return &Manager{
		instanceID:  id,
		projectDir:  layout.ProjectDir(),
		transport:   NewTransport(layout.MessagesDir(), layout.InstancesDir(), logger),
		registry:    registry,
		cfg:         cfg,
		logger:      logger.With("instance", id[:8]),
		vector:      NewVersionVector(id),
		pendingAcks: make(map[string]*pendingAck),
		processed:   make(map[string]time.Time),
		instances:   make(map[string]*InstanceInfo),
	}
}

// InstanceID returns this instance's 32-hex-char id.
func (m *Manager) InstanceID() string { return m.instanceID }

// OnUpdate registers the callback invoked after incoming changes apply.
func (m *Manager) OnUpdate(cb UpdateCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = cb
}

// Vector returns a copy of the current version vector.
func (m *Manager) Vector() VersionVector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vector.Clone()
}

// Instances returns the currently known live peers.
func (m *Manager) Instances() []*InstanceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*InstanceInfo, 0, len(m.instances))
	for _, info := range m.instances {
		out = append(out, info)
	}
	return out
}

// Start writes the instance file, issues one broadcast sync request, and
// begins the heartbeat, cleanup and message-scan loops.
func (m *Manager) Start() error {
	m.mu.Lock()
	m.startedAt = state.Timestamp()
	m.stop = make(chan struct{})
	m.mu.Unlock()

	if err := m.writeInstanceFile(); err != nil {
		return err
	}
	if err := m.RequestSync(nil); err != nil {
		return err
	}
	if err := m.transport.Watch(m.stop, func() { m.ProcessMessages() }); err != nil {
		return err
	}

	m.wg.Add(2)
	go m.heartbeatLoop()
	go m.cleanupLoop()

	m.logger.Info("sync manager started", "project", m.projectDir)
	return nil
}

// Stop halts the loops and removes the instance file.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stop == nil {
		m.mu.Unlock()
		return
	}
	close(m.stop)
	m.stop = nil
	m.mu.Unlock()

	m.wg.Wait()
	if err := m.transport.RemoveInstance(m.instanceID); err != nil {
		m.logger.Warn("failed to remove instance file", "error", err.Error())
	}
	m.logger.Info("sync manager stopped")
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	m.mu.Lock()
	stop := m.stop
	m.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.sendHeartbeat(); err != nil {
				m.logger.Warn("heartbeat failed", "error", err.Error())
			}
		}
	}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.MessageRetention / 2)
	defer ticker.Stop()

	m.mu.Lock()
	stop := m.stop
	m.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// newEnvelope builds an envelope with a fresh id and the next sequence
// number. The caller must hold the mutex.
func (m *Manager) newEnvelope(t MessageType, target string) *Envelope {
	m.seq++
	return &Envelope{
		MessageID:      uuid.NewString(),
		Type:           t,
		SourceInstance: m.instanceID,
		TargetInstance: target,
		Timestamp:      state.Timestamp(),
		SequenceNumber: m.seq,
	}
}

// send writes an envelope to the transport, tracking it for acknowledgement
// when trackAck is set. The caller must hold the mutex.
func (m *Manager) send(env *Envelope, trackAck bool) error {
	if err := m.transport.WriteMessage(env); err != nil {
		return err
	}
	if trackAck {
		m.pendingAcks[env.MessageID] = &pendingAck{envelope: env, sentAt: time.Now()}
	}
	return nil
}

// BroadcastProtocolUpdate announces a local protocol registration or update.
// The local vector component is incremented before the broadcast.
func (m *Manager) BroadcastProtocolUpdate(p *protocol.Protocol, previousVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vector.Increment(m.instanceID)
	env := m.newEnvelope(MsgProtocolUpdate, "")
	env.ProtocolUpdate = &ProtocolUpdatePayload{
		Protocol:        p,
		VersionVector:   m.vector.Clone(),
		PreviousVersion: previousVersion,
	}
	return m.send(env, true)
}

// BroadcastProtocolDelete announces a local protocol deletion.
func (m *Manager) BroadcastProtocolDelete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vector.Increment(m.instanceID)
	env := m.newEnvelope(MsgProtocolDelete, "")
	env.ProtocolDelete = &ProtocolDeletePayload{
		ID:            id,
		VersionVector: m.vector.Clone(),
		DeletedAt:     state.Timestamp(),
	}
	return m.send(env, true)
}

// BroadcastActivationChange announces a local activation or deactivation.
func (m *Manager) BroadcastActivationChange(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vector.Increment(m.instanceID)
	env := m.newEnvelope(MsgActivationChange, "")
	env.ActivationChange = &ActivationChangePayload{
		ID:            id,
		Active:        active,
		VersionVector: m.vector.Clone(),
	}
	return m.send(env, true)
}

// RequestSync broadcasts a sync request for the given protocol ids (nil
// means everything).
func (m *Manager) RequestSync(requested []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	env := m.newEnvelope(MsgSyncRequest, "")
	env.SyncRequest = &SyncRequestPayload{
		RequestedProtocols:   requested,
		CurrentVersionVector: m.vector.Clone(),
	}
	return m.send(env, false)
}

// sendHeartbeat refreshes the instance file and broadcasts a heartbeat.
func (m *Manager) sendHeartbeat() error {
	if err := m.writeInstanceFile(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	env := m.newEnvelope(MsgHeartbeat, "")
	env.Heartbeat = &HeartbeatPayload{
		Instance:      m.instanceInfoLocked(),
		ProtocolCount: len(m.registry.List()),
		ActiveCount:   len(m.registry.ActiveIDs()),
	}
	return m.send(env, false)
}

func (m *Manager) instanceInfoLocked() InstanceInfo {
	return InstanceInfo{
		InstanceID:    m.instanceID,
		ProjectDir:    m.projectDir,
		StartedAt:     m.startedAt,
		LastHeartbeat: state.Timestamp(),
		Version:       m.cfg.Version,
		Capabilities:  m.cfg.Capabilities,
	}
}

func (m *Manager) writeInstanceFile() error {
	m.mu.Lock()
	info := m.instanceInfoLocked()
	m.mu.Unlock()
	return m.transport.WriteInstance(&info)
}

// ProcessMessages scans the transport and handles every message addressed
// to this instance that has not been processed yet. Returns how many were
// handled.
func (m *Manager) ProcessMessages() int {
	envs, _, err := m.transport.ReadMessages()
	if err != nil {
		m.logger.Warn("message scan failed", "error", err.Error())
		return 0
	}

	handled := 0
	for _, env := range envs {
		if env.SourceInstance == m.instanceID {
			continue
		}
		if env.TargetInstance != "" && env.TargetInstance != m.instanceID {
			continue
		}

		m.mu.Lock()
		_, seen := m.processed[env.MessageID]
		if !seen {
			m.processed[env.MessageID] = time.Now()
		}
		m.mu.Unlock()
		if seen {
			continue
		}

		m.handleEnvelope(env)
		handled++
	}
	return handled
}

// handleEnvelope dispatches one incoming message.
func (m *Manager) handleEnvelope(env *Envelope) {
	switch env.Type {
	case MsgProtocolUpdate:
		m.handleProtocolUpdate(env)
	case MsgProtocolDelete:
		m.handleProtocolDelete(env)
	case MsgActivationChange:
		m.handleActivationChange(env)
	case MsgSyncRequest:
		m.handleSyncRequest(env)
	case MsgSyncResponse:
		m.handleSyncResponse(env)
	case MsgHeartbeat:
		m.handleHeartbeat(env)
	case MsgAck:
		m.handleAck(env)
	case MsgNack:
		m.handleNack(env)
	default:
		m.logger.Warn("unknown sync message type", "type", string(env.Type), "from", env.SourceInstance)
	}
}

func (m *Manager) handleProtocolUpdate(env *Envelope) {
	p := env.ProtocolUpdate
	if p == nil || p.Protocol == nil {
		return
	}

	m.mu.Lock()
	order := m.vector.Compare(p.VersionVector)
	m.mu.Unlock()

	// A remote update we are causally ahead of is stale.
	if order == OrderAfter {
		m.reply(env, MsgNack, "outdated")
		return
	}

	m.mergeVector(p.VersionVector)
	applied := m.applyRemoteProtocol(p.Protocol)
	if applied {
		m.notify(MsgProtocolUpdate, p.Protocol.ID)
	}
	m.reply(env, MsgAck, "applied")
}

func (m *Manager) handleProtocolDelete(env *Envelope) {
	p := env.ProtocolDelete
	if p == nil {
		return
	}
	m.mergeVector(p.VersionVector)

	if err := m.registry.Delete(p.ID, "sync:"+env.SourceInstance); err != nil {
		m.logger.Warn("could not apply remote delete", "protocol", p.ID, "error", err.Error())
	} else {
		m.notify(MsgProtocolDelete, p.ID)
	}
	m.reply(env, MsgAck, "applied")
}

func (m *Manager) handleActivationChange(env *Envelope) {
	p := env.ActivationChange
	if p == nil {
		return
	}
	m.mergeVector(p.VersionVector)

	actor := "sync:" + env.SourceInstance
	var err error
	if p.Active {
		err = m.registry.Activate(p.ID, actor)
	} else {
		err = m.registry.Deactivate(p.ID, actor)
	}
	if err != nil {
		m.logger.Warn("could not apply remote activation change",
			"protocol", p.ID, "active", p.Active, "error", err.Error())
	} else {
		m.notify(MsgActivationChange, p.ID)
	}
	m.reply(env, MsgAck, "applied")
}

func (m *Manager) handleSyncRequest(env *Envelope) {
	req := env.SyncRequest
	if req == nil {
		return
	}
	m.mergeVector(req.CurrentVersionVector)

	protos := m.registry.List()
	if len(req.RequestedProtocols) > 0 {
		wanted := make(map[string]bool, len(req.RequestedProtocols))
		for _, id := range req.RequestedProtocols {
			wanted[id] = true
		}
		filtered := protos[:0]
		for _, p := range protos {
			if wanted[p.ID] {
				filtered = append(filtered, p)
			}
		}
		protos = filtered
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	resp := m.newEnvelope(MsgSyncResponse, env.SourceInstance)
	resp.SyncResponse = &SyncResponsePayload{
		Protocols:       protos,
		ActiveProtocols: m.registry.ActiveIDs(),
		VersionVector:   m.vector.Clone(),
		InResponseTo:    env.MessageID,
	}
	if err := m.send(resp, false); err != nil {
		m.logger.Warn("failed to send sync response", "error", err.Error())
	}
}

func (m *Manager) handleSyncResponse(env *Envelope) {
	resp := env.SyncResponse
	if resp == nil {
		return
	}
	m.mergeVector(resp.VersionVector)

	for _, p := range protocol.OrderForRegistration(resp.Protocols) {
		if m.applyRemoteProtocol(p) {
			m.notify(MsgProtocolUpdate, p.ID)
		}
	}
}

func (m *Manager) handleHeartbeat(env *Envelope) {
	hb := env.Heartbeat
	if hb == nil {
		return
	}
	m.mu.Lock()
	info := hb.Instance
	m.instances[info.InstanceID] = &info
	m.mu.Unlock()
}

func (m *Manager) handleAck(env *Envelope) {
	if env.Ack == nil {
		return
	}
	m.mu.Lock()
	delete(m.pendingAcks, env.Ack.InResponseTo)
	m.mu.Unlock()
}

func (m *Manager) handleNack(env *Envelope) {
	if env.Nack == nil {
		return
	}
	m.mu.Lock()
	delete(m.pendingAcks, env.Nack.InResponseTo)
	m.mu.Unlock()
	m.logger.Warn("broadcast refused by peer",
		"message", env.Nack.InResponseTo, "reason", env.Nack.Reason, "peer", env.SourceInstance)
}

// applyRemoteProtocol merges one remote protocol into the local registry,
// using conflict resolution when both sides hold a definition. Reports
// whether the registry changed.
func (m *Manager) applyRemoteProtocol(remote *protocol.Protocol) bool {
	actor := "sync"
	local, err := m.registry.Get(remote.ID)
	if err != nil {
		if regErr := m.registry.Register(remote, actor); regErr != nil {
			m.logger.Warn("could not register remote protocol",
				"protocol", remote.ID, "error", regErr.Error())
			return false
		}
		return true
	}

	useRemote, reason := ResolveConflict(local, remote)
	if !useRemote {
		m.logger.Debug("kept local protocol", "protocol", remote.ID, "reason", reason)
		return false
	}
	if err := m.registry.Update(remote, actor); err != nil {
		m.logger.Warn("could not update remote protocol",
			"protocol", remote.ID, "error", err.Error())
		return false
	}
	m.logger.Info("applied remote protocol", "protocol", remote.ID, "reason", reason)
	return true
}

// ResolveConflict decides between two definitions of the same protocol:
// the higher semver wins, then the later updatedAt (or createdAt), then the
// local side keeps its version. The reason is human-readable.
func ResolveConflict(local, remote *protocol.Protocol) (useRemote bool, reason string) {
	switch cmp := protocol.CompareVersions(remote.Version, local.Version); {
	case cmp > 0:
		return true, fmt.Sprintf("remote version %s is newer than local %s", remote.Version, local.Version)
	case cmp < 0:
		return false, fmt.Sprintf("local version %s is newer than remote %s", local.Version, remote.Version)
	}

	localTime := local.UpdatedAt
	if localTime == "" {
		localTime = local.CreatedAt
	}
	remoteTime := remote.UpdatedAt
	if remoteTime == "" {
		remoteTime = remote.CreatedAt
	}
	switch {
	case remoteTime > localTime:
		return true, fmt.Sprintf("same version, remote updated later (%s > %s)", remoteTime, localTime)
	case remoteTime < localTime:
		return false, fmt.Sprintf("same version, local updated later (%s > %s)", localTime, remoteTime)
	}

	return false, "same version and timestamp, local side wins"
}

// reply sends an ack or nack addressed to the message's source.
func (m *Manager) reply(env *Envelope, t MessageType, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp := m.newEnvelope(t, env.SourceInstance)
	if t == MsgAck {
		resp.Ack = &AckPayload{InResponseTo: env.MessageID, Status: detail}
	} else {
		resp.Nack = &NackPayload{InResponseTo: env.MessageID, Reason: detail}
	}
	if err := m.send(resp, false); err != nil {
		m.logger.Warn("failed to send reply", "type", string(t), "error", err.Error())
	}
}

// mergeVector folds a remote vector into the local one.
func (m *Manager) mergeVector(remote VersionVector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vector.Merge(remote)
}

func (m *Manager) notify(kind MessageType, protocolID string) {
	m.mu.Lock()
	cb := m.onUpdate
	m.mu.Unlock()
	if cb != nil {
		cb(kind, protocolID)
	}
}

// Sweep removes expired messages, dead instances and abandoned pending
// acks. Dead instances also leave the known-peers map.
func (m *Manager) Sweep() {
	removed := m.transport.SweepMessages(m.cfg.MessageRetention)
	dead := m.transport.SweepInstances(m.cfg.InstanceTimeout)

	m.mu.Lock()
	for _, id := range dead {
		delete(m.instances, id)
	}
	deadline := time.Duration(m.cfg.MaxRetries) * m.cfg.RetryDelay
	var dropped []string
	for id, pending := range m.pendingAcks {
		if time.Since(pending.sentAt) > deadline {
			dropped = append(dropped, id)
			delete(m.pendingAcks, id)
		}
	}
	// Dedupe entries older than the retention window cannot recur: their
	// message files are already swept.
	for id, at := range m.processed {
		if time.Since(at) > m.cfg.MessageRetention {
			delete(m.processed, id)
		}
	}
	m.mu.Unlock()

	for _, id := range dropped {
		m.logger.Warn("dropping unacknowledged broadcast", "message", id)
	}
	if removed > 0 || len(dead) > 0 {
		m.logger.Debug("sync sweep", "messagesRemoved", removed, "deadInstances", len(dead))
	}
}
