// Package session implements the per-connection SSH protocol driver:
// authentication resolution, channel dispatch (shell/exec/pty/forwarding),
// and the SessionState these callbacks share, per spec §3/§4.6.
package session

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/theykk/agentman-gateway/internal/execbridge"
	"github.com/theykk/agentman-gateway/internal/portforward"
)

// PTYInfo records the terminal a channel asked for.
type PTYInfo struct {
	Term string
	Cols uint32
	Rows uint32
}

// ExecBinding is the live process bound to a channel.
type ExecBinding struct {
	Bridge *execbridge.Bridge
	IsTTY  bool
	Kind   execbridge.Kind
}

// State is one TCP connection's SessionState. The SSH request/channel
// callbacks that touch it are serialized by the protocol driver's own
// handshake sequencing for authentication; once authenticated, Go's
// ssh package dispatches each accepted channel on its own goroutine, so
// State is guarded by a mutex rather than relying on single-threaded
// callback ordering the way a cooperative-scheduler driver would. The
// identity, project, container, fingerprint, PTY and exec fields are only
// read or written while holding mu; channelSeq is advanced atomically, and
// Forwards is a portforward.Manager with its own lock.
type State struct {
	mu sync.Mutex

	PeerAddr string

	Identity                  *string
	Project                   string
	ContainerID               string
	OfferedFingerprints       []string
	PendingInteractiveIdentity *string

	PTYs  map[string]PTYInfo
	Execs map[string]*ExecBinding

	Forwards *portforward.Manager

	channelSeq uint64
}

// NewState returns an empty State for a freshly accepted connection.
func NewState(peerAddr string) *State {
	return &State{
		PeerAddr: peerAddr,
		PTYs:     make(map[string]PTYInfo),
		Execs:    make(map[string]*ExecBinding),
		Forwards: portforward.NewManager(),
	}
}

func (s *State) setIdentity(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Identity = &identity
}

func (s *State) getIdentity() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Identity == nil {
		return "", false
	}
	return *s.Identity, true
}

func (s *State) setProject(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Project = project
}

func (s *State) getProject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Project
}

func (s *State) appendOfferedFingerprint(fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OfferedFingerprints = append(s.OfferedFingerprints, fp)
}

func (s *State) offeredFingerprints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.OfferedFingerprints))
	copy(out, s.OfferedFingerprints)
	return out
}

func (s *State) setPendingInteractiveIdentity(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingInteractiveIdentity = &identity
}

func (s *State) getPendingInteractiveIdentity() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PendingInteractiveIdentity == nil {
		return "", false
	}
	return *s.PendingInteractiveIdentity, true
}

func (s *State) setContainerID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ContainerID = id
}

func (s *State) getContainerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ContainerID
}

func (s *State) setPTY(channelKey string, info PTYInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PTYs[channelKey] = info
}

func (s *State) getPTY(channelKey string) (PTYInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.PTYs[channelKey]
	return info, ok
}

func (s *State) dropPTY(channelKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PTYs, channelKey)
}

func (s *State) setExec(channelKey string, binding *ExecBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Execs[channelKey] = binding
}

func (s *State) getExec(channelKey string) (*ExecBinding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.Execs[channelKey]
	return b, ok
}

func (s *State) dropExec(channelKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Execs, channelKey)
}

// nextChannelKey returns a connection-unique key for a newly accepted
// channel, used to index PTYs/Execs. Go dispatches each accepted channel
// on its own goroutine, so this has no single "current channel" the way
// a sequential driver would; a monotonically increasing id stands in for
// the channel identity the spec's table keys its maps on.
func (s *State) nextChannelKey() string {
	id := atomic.AddUint64(&s.channelSeq, 1)
	return strconv.FormatUint(id, 10)
}

// teardown cancels every remote forward. Called once, on TCP disconnect.
func (s *State) teardown() {
	s.Forwards.CancelAll()
}
