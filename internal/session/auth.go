package session

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/gwerrors"
	"github.com/theykk/agentman-gateway/internal/identity"
	"github.com/theykk/agentman-gateway/internal/sshkeys"
)

// authPublicKey implements the Unauth|publickey-offered row of §4.6: parse
// the SSH user, validate the project half, then run the five-step
// resolution order. On success every fingerprint offered so far by this
// connection is cached against the resolved identity.
func (f *FSM) authPublicKey(ctx context.Context, state *State, conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	project, identityHint := identity.ParseUsername(conn.User())
	if err := identity.ValidateProject(project); err != nil {
		return nil, gwerrors.AuthRejected("invalid project in ssh user %q: %v", conn.User(), err)
	}
	state.setProject(project)

	fp := sshkeys.Fingerprint(key)
	state.appendOfferedFingerprint(fp)

	resolved, algorithm, err := f.resolveIdentity(ctx, state, fp, key, identityHint)
	if err != nil {
		return nil, err
	}

	if err := f.store.BindMany(state.offeredFingerprints(), resolved, algorithm, time.Now()); err != nil {
		f.logf("session: cache offered fingerprints for %s: %v", resolved, err)
	}

	state.setIdentity(resolved)
	return &ssh.Permissions{}, nil
}

// resolveIdentity runs resolution steps (a) through (d) of §4.6 in order,
// falling through to the next step whenever the current one cannot
// confirm the key, and returning AuthRejected (step e) if none can.
func (f *FSM) resolveIdentity(ctx context.Context, state *State, fp string, key ssh.PublicKey, identityHint *string) (string, string, error) {
	// (a) cached binding.
	if binding, ok := f.store.LookupByFingerprint(fp); ok {
		return binding.Identity, binding.KeyType, nil
	}

	// (b) an identity pinned by a prior keyboard-interactive exchange.
	if pending, ok := state.getPendingInteractiveIdentity(); ok {
		if algo, err := f.verifier.Verify(ctx, pending, key); err == nil {
			return pending, algo, nil
		}
	}

	// (c) the "+identity" hint carried in the SSH user.
	if identityHint != nil {
		if err := identity.ValidateIdentity(*identityHint); err == nil {
			if algo, err := f.verifier.Verify(ctx, *identityHint, key); err == nil {
				return *identityHint, algo, nil
			}
		}
	}

	// (d) configured bootstrap identities, tried in order.
	for _, boot := range f.cfg.BootstrapIdentities {
		if algo, err := f.verifier.Verify(ctx, boot, key); err == nil {
			return boot, algo, nil
		}
	}

	// (e) reject; publickey and keyboard-interactive remain available for
	// a subsequent attempt on this same connection.
	return "", "", gwerrors.AuthRejected("key %s does not resolve to any identity", fp)
}

// authKeyboardInteractive implements the two keyboard-interactive rows of
// §4.6 as a single callback: prompt for an identity name, validate it,
// pin it as pending_interactive_identity, then reject so the client
// re-offers its keys (now checked against the pinned identity by
// resolveIdentity's step (b)).
func (f *FSM) authKeyboardInteractive(state *State, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	answers, err := challenge("", "", []string{"GitHub username: "}, []bool{true})
	if err != nil {
		return nil, gwerrors.AuthRejected("keyboard-interactive prompt failed: %v", err)
	}
	if len(answers) == 0 {
		return nil, gwerrors.AuthRejected("no identity supplied")
	}

	ident := strings.TrimSpace(answers[0])
	if err := identity.ValidateIdentity(ident); err != nil {
		return nil, gwerrors.AuthRejected("invalid identity %q: %v", ident, err)
	}

	state.setPendingInteractiveIdentity(ident)
	return nil, gwerrors.AuthRejected("re-offer your key now that %s is pinned", ident)
}
