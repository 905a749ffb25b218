package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"text/template"

	"github.com/containrrr/shoutrrr"
	"github.com/lac-hong-legacy/guard_api/model"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const blockCreatedTemplate = `Target blocked: {{.TargetUsername}} on {{.TargetPlatform}}
Reason: {{.ReasonCode}} ({{.ViolationCount}} violations{{if .ViolationTypes}}: {{join .ViolationTypes ", "}}{{end}})
Kind: {{.Kind}}{{if .ExpiresAt}}, expires {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}{{end}}
Block: {{.ID}}`

var tmpl = template.Must(template.New("block_created").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(blockCreatedTemplate))

// SendFunc delivers msg to one shoutrrr URL.
type SendFunc func(url, msg string) error

// Notifier fans block creations out to chat and webhook targets. Bursts
// beyond the limiter are dropped so a mass-block cannot flood the channels.
type Notifier struct {
	urls    []string
	limiter *rate.Limiter
	send    SendFunc
}

type Option func(*Notifier)

func WithSender(fn SendFunc) Option {
	return func(n *Notifier) { n.send = fn }
}

// NewNotifier allows perMinute messages with the given burst.
func NewNotifier(urls []string, perMinute float64, burst int, opts ...Option) *Notifier {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 5
	}
	n := &Notifier{
		urls:    urls,
		limiter: rate.NewLimiter(rate.Limit(perMinute/60), burst),
		send: func(url, msg string) error {
			return shoutrrr.Send(url, msg)
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) Enabled() bool {
	return n != nil && len(n.urls) > 0
}

// BlockCreated notifies in the background.
func (n *Notifier) BlockCreated(_ context.Context, block *model.Block) {
	if !n.Enabled() {
		return
	}
	b := *block
	go func() {
		if _, err := n.Deliver(&b); err != nil {
			log.WithError(err).WithField("block_id", b.ID).Warn("Block notification failed")
		}
	}()
}

// Deliver renders and sends one notification. It reports false when the
// message was dropped by the limiter.
func (n *Notifier) Deliver(block *model.Block) (bool, error) {
	if !n.limiter.Allow() {
		log.WithField("block_id", block.ID).Debug("Block notification throttled")
		return false, nil
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, block); err != nil {
		return false, err
	}
	msg := buf.String()

	var errs []error
	for _, url := range n.urls {
		if err := n.send(url, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}
