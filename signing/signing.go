// Package signing wires the full signing data flow from spec §2:
// external app → ApprovalPolicy → SessionManager → SecretStore →
// DelegationEngine (when requested) → EventCodec → response. It is the
// single choke point for signing with an identity held in SecretStore, so
// the lock gate (and, for SignEvent, approval caching and delegation tags)
// is enforced uniformly rather than ad hoc at each call site. Packages
// that are handed a secret key directly (gift-wrap seals, DM lists, group
// messages) sign through the event package and do not pass through here.
package signing

import (
	"encoding/hex"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/approval"
	"github.com/nitrous-signer/core/delegation"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/event"
	"github.com/nitrous-signer/core/secretstore"
	"github.com/nitrous-signer/core/session"
)

// Approver surfaces an approval UI when no cached decision exists and
// returns the user's choice plus the TTL to remember it for. Pipeline
// calls this only on an Unknown Ask result (spec §4.7).
type Approver interface {
	RequestApproval(applicationID string, kind int) (decision approval.Decision, ttl time.Duration)
}

// Pipeline is the SigningPipeline collaborator named throughout spec §4
// (DelegationEngine and KeyPackageManager both sign "through
// SigningPipeline" rather than touching SecretStore directly).
type Pipeline struct {
	policy  *approval.Policy
	session *session.Manager
	store   *secretstore.Store
	codec   *event.Codec
	approver Approver
}

// New assembles a Pipeline from its already-constructed collaborators.
func New(policy *approval.Policy, sess *session.Manager, store *secretstore.Store, codec *event.Codec, approver Approver) *Pipeline {
	return &Pipeline{policy: policy, session: sess, store: store, codec: codec, approver: approver}
}

// SignEvent runs the full gate sequence and signs evt in place under the
// identity named by npubSelector, returning the built event id/sig/pubkey
// as side effects on evt. delegationTag, if non-nil, is appended to
// evt.Tags before signing (spec §4.6 build_tag output).
func (p *Pipeline) SignEvent(applicationID, npubSelector string, evt *nostr.Event, delegationTag []string) error {
	if err := p.checkApproval(applicationID, evt.Kind); err != nil {
		return err
	}
	if err := p.session.RequireUnlocked(); err != nil {
		return err
	}
	p.session.Extend()

	secret, _, _, err := p.store.Lookup(npubSelector)
	if err != nil {
		return err
	}

	if delegationTag != nil {
		evt.Tags = append(evt.Tags, delegationTag)
	}
	if err := p.codec.BuildAndSign(evt, secret); err != nil {
		return err
	}
	return nil
}

// SignDigest implements delegation.Signer: it runs the same lock and
// lookup gates as SignEvent, without the approval step, but signs an arbitrary
// 32-byte digest instead of building a full event, the path
// DelegationEngine.Create uses to sign NIP-26 conditions.
func (p *Pipeline) SignDigest(npubSelector string, digest []byte) (string, error) {
	if err := p.session.RequireUnlocked(); err != nil {
		return "", err
	}
	p.session.Extend()

	secret, _, _, err := p.store.Lookup(npubSelector)
	if err != nil {
		return "", err
	}
	return event.Sign(hex.EncodeToString(digest), secret)
}

func (p *Pipeline) checkApproval(applicationID string, kind int) error {
	decision := p.policy.Ask(applicationID, kind)
	if decision == approval.Unknown {
		if p.approver == nil {
			return errs.New(errs.Cancelled, "no approver configured for unknown decision")
		}
		chosen, ttl := p.approver.RequestApproval(applicationID, kind)
		p.policy.Remember(applicationID, kind, chosen, ttl)
		decision = chosen
	}
	if decision == approval.Deny {
		return errs.New(errs.Cancelled, "signing request denied by approval policy")
	}
	return nil
}

var _ delegation.Signer = (*Pipeline)(nil)
