// Package relay is the thin relay-facing collaborator the rest of this
// module treats as an external dependency (spec §1 Non-goals:
// "becoming a Nostr relay" and autonomous key-package discovery are
// explicitly out of scope, but something still has to carry bytes to
// and from real relays). It adapts nbd-wtf/go-nostr's SimplePool to
// the small Publisher/Discoverer/Fetcher/Sender interfaces keypackage,
// dm, and router already define locally, the same way the teacher's
// nostr.go and nostr_dm.go pass one shared *nostr.SimplePool into every
// Cmd that needs relay I/O.
package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/nitrous-signer/core/corelog"
	"github.com/nitrous-signer/core/dm"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/keypackage"
)

var log = corelog.For("relay")

// PublishTimeout is the default per-publish deadline (spec §5: "Relay
// publishes have a caller-provided timeout (default 10s)").
const PublishTimeout = 10 * time.Second

// publishMaxAttempts and publishBaseBackoff implement spec §7: "Network
// failures are retried up to three times with exponential backoff at
// the Router/Publish layer."
const (
	publishMaxAttempts = 3
	publishBaseBackoff = 250 * time.Millisecond
)

// Client wraps one shared SimplePool plus the set of relay URLs this
// identity publishes to and reads from.
type Client struct {
	pool      *nostr.SimplePool
	relayURLs []string
}

// New returns a Client. ctx bounds the pool's own background relay
// connections, matching nostr.NewSimplePool's lifetime in the teacher.
func New(ctx context.Context, relayURLs []string) *Client {
	return &Client{pool: nostr.NewSimplePool(ctx), relayURLs: relayURLs}
}

// Publish sends evt to every configured relay, waiting up to
// PublishTimeout for at least one to accept it on each attempt, and
// making up to publishMaxAttempts attempts in all, with exponential
// backoff between them, while every relay rejects the event (spec §7). Satisfies keypackage.Publisher
// and dm.WelcomeSender (via SendWelcome below).
func (c *Client) Publish(evt nostr.Event) error {
	backoff := publishBaseBackoff
	var lastErr error
	for attempt := 1; attempt <= publishMaxAttempts; attempt++ {
		if err := c.publishOnce(evt); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < publishMaxAttempts {
				log.Warn().Int("attempt", attempt).Err(err).Msg("publish failed, retrying")
				time.Sleep(backoff)
				backoff *= 2
			}
		}
	}
	return errs.Wrap(errs.Network, "no relay accepted the event after retries", lastErr)
}

// publishOnce makes a single PublishMany attempt across every
// configured relay, succeeding if at least one relay accepts.
func (c *Client) publishOnce(evt nostr.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
	defer cancel()

	results := c.pool.PublishMany(ctx, c.relayURLs, evt)
	accepted := 0
	for res := range results {
		if res.Error == nil {
			accepted++
		} else {
			log.Warn().Str("relay", res.RelayURL).Err(res.Error).Msg("publish rejected")
		}
	}
	if accepted == 0 {
		return errs.New(errs.Network, "no relay accepted the event")
	}
	return nil
}

// SendWelcome delivers a gift-wrapped kind-444 welcome. Satisfies
// dm.WelcomeSender.
func (c *Client) SendWelcome(wrap nostr.Event) error { return c.Publish(wrap) }

// LatestKeyPackage returns the most recent kind-443 event authored by
// pubkeyHex. Satisfies keypackage.Discoverer.
func (c *Client) LatestKeyPackage(pubkeyHex string) (nostr.Event, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
	defer cancel()

	re := c.pool.QuerySingle(ctx, c.relayURLs, nostr.Filter{
		Kinds:   []int{443},
		Authors: []string{pubkeyHex},
		Limit:   1,
	})
	if re == nil {
		return nostr.Event{}, false, nil
	}
	return *re.Event, true, nil
}

// LatestKeyPackageJSON is the same lookup as LatestKeyPackage, shaped
// for dm.KeyPackageFetcher: the raw content (the wire-convention
// encoded MLS key package) plus any relay-hint tag values attached to
// the event.
func (c *Client) LatestKeyPackageJSON(peerPubkeyHex string) (string, []string, error) {
	evt, found, err := c.LatestKeyPackage(peerPubkeyHex)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, errs.New(errs.NotFound, "no key package published for peer")
	}
	return evt.Content, relayHintsFromTags(evt.Tags), nil
}

// relayHintsFromTags extracts every "relays" tag's value, trimmed.
func relayHintsFromTags(tags nostr.Tags) []string {
	var relayURLs []string
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "relays" {
			relayURLs = append(relayURLs, strings.TrimSpace(t[1]))
		}
	}
	return relayURLs
}

// Subscribe opens a live subscription for the given kinds across every
// configured relay, marshaling each delivered event to JSON for
// router.Router.Route. Cancel the returned func to stop the
// subscription and release the underlying goroutines.
func (c *Client) Subscribe(kinds []int, since int64) (<-chan string, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	filter := nostr.Filter{Kinds: kinds}
	if since > 0 {
		ts := nostr.Timestamp(since)
		filter.Since = &ts
	}
	incoming := c.pool.SubscribeMany(ctx, c.relayURLs, filter)

	out := make(chan string)
	go func() {
		defer close(out)
		for re := range incoming {
			data, err := json.Marshal(re.Event)
			if err != nil {
				log.Warn().Err(err).Msg("marshal incoming relay event")
				continue
			}
			select {
			case out <- string(data):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel
}

// KeyPackageFetcherAdapter narrows Client to dm.KeyPackageFetcher's
// shape, which names its lookup method LatestKeyPackage too but with a
// different signature (JSON content + relay hints, not a parsed
// event) — a separate type avoids a name collision on *Client itself.
type KeyPackageFetcherAdapter struct{ Client *Client }

func (a KeyPackageFetcherAdapter) LatestKeyPackage(peerPubkeyHex string) (string, []string, error) {
	return a.Client.LatestKeyPackageJSON(peerPubkeyHex)
}

var _ keypackage.Publisher = (*Client)(nil)
var _ keypackage.Discoverer = (*Client)(nil)
var _ dm.WelcomeSender = (*Client)(nil)
var _ dm.KeyPackageFetcher = KeyPackageFetcherAdapter{}
