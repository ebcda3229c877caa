package session

import (
	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/sessionrecording"
)

// recordingChannel tees a session channel's bytes through a Recorder
// before they ever reach the network, implementing the supplemental
// transcript-capture feature without touching ExecBridge itself.
type recordingChannel struct {
	ssh.Channel
	rec *sessionrecording.Recorder
}

func (c *recordingChannel) Read(p []byte) (int, error) {
	n, err := c.Channel.Read(p)
	if n > 0 {
		c.rec.RecordInput(p[:n])
	}
	return n, err
}

func (c *recordingChannel) Write(p []byte) (int, error) {
	n, err := c.Channel.Write(p)
	if n > 0 {
		c.rec.RecordOutput(p[:n])
	}
	return n, err
}

func (c *recordingChannel) Close() error {
	c.rec.Close()
	return c.Channel.Close()
}

// wrapForRecording returns channel unchanged when recording is disabled,
// or when opening the transcript fails (recording must never block a
// session); otherwise it returns a recordingChannel over it.
func (f *FSM) wrapForRecording(containerID, sessionKey string, channel ssh.Channel) ssh.Channel {
	if f.recordings == nil {
		return channel
	}
	rec, err := f.recordings.New(containerID, sessionKey)
	if err != nil {
		f.logf("session: open transcript for %s/%s: %v", containerID, sessionKey, err)
		return channel
	}
	return &recordingChannel{Channel: channel, rec: rec}
}
