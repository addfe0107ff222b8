// Package seed generates synthetic clients, prospects, sends and conversion
// events into a source store for demos and load checks.
package seed

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/attribution/internal/domain/model"
)

const day = 24 * time.Hour

// Event mix in percent. The remainder are malformed events.
const (
	pctHard       = 45
	pctSoft       = 20
	pctNoHistory  = 15
	pctDomainOnly = 8
	pctBeforeSend = 7
)

var (
	companyWords = []string{"acme", "globex", "initech", "umbrella", "stark", "wayne", "hooli", "vandelay", "wonka", "tyrell"}
	suffixes     = []string{"com", "io", "co.uk", "com.au", "de"}
	firstNames   = []string{"jane", "john", "ana", "li", "omar", "sara", "kim", "raj", "eva", "tom"}
	eventTypes   = []model.EventType{model.EventSignUp, model.EventMeetingBooked, model.EventPayingCustomer}
)

type prospect struct {
	email  string
	domain string
	sends  []time.Time // ascending
}

type clientPlan struct {
	client    model.Client
	prospects []prospect
	events    []model.ConversionEvent
}

// generator builds a deterministic plan from the configured seed.
type generator struct {
	cfg Config
	rnd *rand.Rand
}

func newGenerator(cfg Config) *generator {
	return &generator{cfg: cfg, rnd: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))}
}

// clientID derives a stable id so reseeding with the same seed upserts the
// same clients.
func (g *generator) clientID(n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "attribution-seed:%d:%d", g.cfg.Seed, n)).String()
}

func (g *generator) client(n int) clientPlan {
	p := clientPlan{client: model.Client{
		ID:     g.clientID(n),
		Name:   fmt.Sprintf("Seed Client %d", n+1),
		Active: true,
	}}
	p.prospects = make([]prospect, g.cfg.ProspectsPerClient)
	for i := range p.prospects {
		p.prospects[i] = g.prospect(i)
	}
	p.events = make([]model.ConversionEvent, g.cfg.EventsPerClient)
	for i := range p.events {
		p.events[i] = g.event(p.client.ID, p.prospects)
	}
	return p
}

func (g *generator) prospect(i int) prospect {
	// Two prospects share each company so domain matches have company peers.
	company := i / 2
	domain := fmt.Sprintf("%s%d.%s",
		companyWords[company%len(companyWords)], company, suffixes[company%len(suffixes)])
	p := prospect{
		email:  fmt.Sprintf("%s.%d@%s", firstNames[g.rnd.IntN(len(firstNames))], i, domain),
		domain: domain,
	}
	at := g.cfg.Start.Add(time.Duration(g.rnd.IntN(g.cfg.Days*24)) * time.Hour)
	for n := 1 + g.rnd.IntN(3); n > 0; n-- {
		p.sends = append(p.sends, at)
		at = at.Add(time.Duration(1+g.rnd.IntN(7)) * day)
	}
	return p
}

func (g *generator) event(clientID string, prospects []prospect) model.ConversionEvent {
	ev := model.ConversionEvent{
		ClientID: clientID,
		Type:     eventTypes[g.rnd.IntN(len(eventTypes))],
	}
	p := prospects[g.rnd.IntN(len(prospects))]
	first := p.sends[0]
	after := first.Add(time.Duration(g.rnd.IntN(45*24)) * time.Hour)

	switch roll := g.rnd.IntN(100); {
	case roll < pctHard:
		ev.Email, ev.EventTime = p.email, after
	case roll < pctHard+pctSoft:
		ev.Email, ev.EventTime = fmt.Sprintf("new.%d@%s", g.rnd.IntN(1000), p.domain), after
	case roll < pctHard+pctSoft+pctNoHistory:
		ev.Email = fmt.Sprintf("lead%d@prospect%d.net", g.rnd.IntN(1000), g.rnd.IntN(500))
		ev.EventTime = g.cfg.Start.Add(time.Duration(g.rnd.IntN(g.cfg.Days*24)) * time.Hour)
	case roll < pctHard+pctSoft+pctNoHistory+pctDomainOnly:
		ev.Domain, ev.EventTime = "https://www."+p.domain+"/", after
	case roll < pctHard+pctSoft+pctNoHistory+pctDomainOnly+pctBeforeSend:
		ev.Email, ev.EventTime = p.email, first.Add(-time.Duration(1+g.rnd.IntN(10*24))*time.Hour)
	default:
		ev.Type, ev.Email, ev.EventTime = "webinar", p.email, after
	}
	return ev
}
