package domain

import "strings"

// Agent is a fixed external counterparty the user exchanges mail with.
type Agent struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Webhook string `json:"webhook,omitempty"`
}

// UserAddress is the sender address used for user-direction messages.
const UserAddress = "student@mokabura.com"

var defaultAgents = []Agent{
	{Key: "vendor", Name: "Vendor", Email: "vendor@merlion.com"},
	{Key: "customs", Name: "Customs Broker", Email: "customs@clearance.com"},
	{Key: "warehouse", Name: "Warehouse Owners", Email: "warehouse@storage.com"},
	{Key: "port", Name: "Port Owners", Email: "port@harbor.gov"},
	{Key: "account", Name: "Account Manager", Email: "manager@mokabura.com"},
	{Key: "retail", Name: "Retail Bots", Email: "retail@shop.com"},
	{Key: "influencer", Name: "Influencer", Email: "influencer@social.com"},
}

// Directory is the immutable agent lookup table. The zero value is empty.
type Directory struct {
	agents []Agent
	byKey  map[string]int
}

// NewDirectory builds a Directory from agents, keeping declaration order.
// Later duplicates of a key are ignored.
func NewDirectory(agents ...Agent) Directory {
	d := Directory{byKey: make(map[string]int, len(agents))}
	for _, a := range agents {
		if _, dup := d.byKey[a.Key]; dup || a.Key == "" {
			continue
		}
		d.byKey[a.Key] = len(d.agents)
		d.agents = append(d.agents, a)
	}
	return d
}

// DefaultDirectory returns the built-in agents. When webhookBase is non-empty each
// agent's webhook is webhookBase + "/agent-<key>".
func DefaultDirectory(webhookBase string) Directory {
	base := strings.TrimRight(strings.TrimSpace(webhookBase), "/")
	agents := make([]Agent, len(defaultAgents))
	copy(agents, defaultAgents)
	if base != "" {
		for i := range agents {
			agents[i].Webhook = base + "/agent-" + agents[i].Key
		}
	}
	return NewDirectory(agents...)
}

func (d Directory) Lookup(key string) (Agent, bool) {
	i, ok := d.byKey[key]
	if !ok {
		return Agent{}, false
	}
	return d.agents[i], true
}

func (d Directory) Has(key string) bool {
	_, ok := d.byKey[key]
	return ok
}

// Keys returns agent keys in declaration order.
func (d Directory) Keys() []string {
	keys := make([]string, len(d.agents))
	for i, a := range d.agents {
		keys[i] = a.Key
	}
	return keys
}

func (d Directory) Agents() []Agent {
	out := make([]Agent, len(d.agents))
	copy(out, d.agents)
	return out
}
