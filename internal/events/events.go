// Package events publishes ledger activity on NATS.
//
// Subjects have the form
//
//	{prefix}.{owner}.{repo}.{changeset}.{kind}
//
// where kind is a hop kind (begin, result, decision, ...) or "check".
// Subscribers use {prefix}.{owner}.{repo}.{changeset}.* to follow one
// change set.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/checks"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// DefaultPrefix is the subject prefix when none is configured.
const DefaultPrefix = "reviewd"

// KindCheck is the subject kind of check signals.
const KindCheck = "check"

// Event is the message body.
type Event struct {
	Kind       string           `json:"kind"`
	Repository string           `json:"repository"`
	ChangeSet  string           `json:"changeset"`
	Hop        *ledger.HopEntry `json:"hop,omitempty"`
	Check      *checks.Signal   `json:"check,omitempty"`
	Published  time.Time        `json:"published_at"`
}

// Subject builds the subject for one change set and kind. Tokens are
// sanitized so repository names cannot add subject levels or wildcards.
func Subject(prefix string, key ledger.Key, kind string) string {
	owner, repo, ok := strings.Cut(key.Repository, "/")
	if !ok {
		repo = owner
		owner = "_"
	}
	return strings.Join([]string{prefix, token(owner), token(repo), token(key.ChangeSet), token(kind)}, ".")
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// NATSPublisher sends hops and check signals to NATS. It implements
// ledger.Observer and checks.Publisher.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

// NewNATSPublisher creates a publisher on nc.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger, now: time.Now}
}

// ObserveHop implements ledger.Observer. Publish failures are logged; the
// hop is already committed.
func (p *NATSPublisher) ObserveHop(ctx context.Context, key ledger.Key, hop ledger.HopEntry) {
	ev := Event{Kind: string(hop.Kind), Repository: key.Repository, ChangeSet: key.ChangeSet, Hop: &hop}
	if err := p.publish(key, ev); err != nil {
		p.logger.Warn(ctx, "publishing hop event", zap.Uint64("seq", hop.Seq), zap.Error(err))
	}
}

// PublishCheck implements checks.Publisher.
func (p *NATSPublisher) PublishCheck(_ context.Context, key ledger.Key, sig checks.Signal) error {
	return p.publish(key, Event{Kind: KindCheck, Repository: key.Repository, ChangeSet: key.ChangeSet, Check: &sig})
}

func (p *NATSPublisher) publish(key ledger.Key, ev Event) error {
	ev.Published = p.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(p.prefix, key, ev.Kind)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	PublishedTotal.WithLabelValues(ev.Kind).Inc()
	return nil
}

// Subscribe delivers every event of one change set to ch.
func Subscribe(nc *nats.Conn, prefix string, key ledger.Key, ch chan *nats.Msg) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return nc.ChanSubscribe(Subject(prefix, key, "*"), ch)
}

// KindOf returns the last subject token.
func KindOf(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
