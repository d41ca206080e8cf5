package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultDirectory(t *testing.T) {
	d := DefaultDirectory("")
	require.Equal(t, []string{"vendor", "customs", "warehouse", "port", "account", "retail", "influencer"}, d.Keys())

	a, ok := d.Lookup("customs")
	require.True(t, ok)
	require.Equal(t, "Customs Broker", a.Name)
	require.Equal(t, "customs@clearance.com", a.Email)
	require.Empty(t, a.Webhook)

	_, ok = d.Lookup("nobody")
	require.False(t, ok)
	require.False(t, d.Has("nobody"))
}

func TestDefaultDirectory_WebhookBase(t *testing.T) {
	d := DefaultDirectory(" https://hooks.example.com/webhook/ ")
	for _, a := range d.Agents() {
		require.Equal(t, "https://hooks.example.com/webhook/agent-"+a.Key, a.Webhook)
	}
}

func TestNewDirectory_SkipsDuplicatesAndBlankKeys(t *testing.T) {
	d := NewDirectory(
		Agent{Key: "a", Name: "first"},
		Agent{Key: ""},
		Agent{Key: "b"},
		Agent{Key: "a", Name: "second"},
	)
	require.Equal(t, []string{"a", "b"}, d.Keys())
	a, _ := d.Lookup("a")
	require.Equal(t, "first", a.Name)

	var zero Directory
	require.Empty(t, zero.Keys())
	require.False(t, zero.Has("a"))
}

func TestDirectory_AgentsIsACopy(t *testing.T) {
	d := DefaultDirectory("")
	agents := d.Agents()
	agents[0].Name = "changed"
	a, _ := d.Lookup("vendor")
	require.Equal(t, "Vendor", a.Name)
}

func TestMessageConstructors(t *testing.T) {
	at := time.Date(2026, 2, 25, 18, 0, 0, 0, time.FixedZone("SGT", 8*3600))
	vendor, _ := DefaultDirectory("").Lookup("vendor")

	u := NewUserMessage(vendor, "B", at)
	require.True(t, u.IsUser())
	require.Equal(t, UserAddress, u.From)
	require.Equal(t, "vendor@merlion.com", u.To)
	require.Equal(t, time.UTC, u.Timestamp.Location())
	require.True(t, u.Timestamp.Equal(at))
	require.Len(t, u.ID, 26)

	r := NewAgentMessage(vendor, "Echo: B", at)
	require.False(t, r.IsUser())
	require.Equal(t, "vendor@merlion.com", r.From)
	require.Equal(t, UserAddress, r.To)
	require.NotEqual(t, u.ID, r.ID)
}

func TestConversation_AppendAndOwnership(t *testing.T) {
	vendor, _ := DefaultDirectory("").Lookup("vendor")
	at := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	c := Conversation{ThreadID: "t1", UserID: "u1", AgentType: "vendor"}

	c.Append(NewUserMessage(vendor, "B", at), NewAgentMessage(vendor, "Echo: B", at.Add(time.Second)))
	require.Len(t, c.Messages, 2)
	require.Equal(t, at.Add(time.Second), c.UpdatedAt)

	require.True(t, c.OwnedBy("u1", "vendor"))
	require.False(t, c.OwnedBy("u2", "vendor"))
	require.False(t, c.OwnedBy("u1", "customs"))

	profile := User{ID: "u1", Username: "ana", Email: "ana@example.com", PasswordHash: "x"}.Profile()
	require.Equal(t, Profile{ID: "u1", Username: "ana", Email: "ana@example.com"}, profile)
}
