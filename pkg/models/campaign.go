package models

import (
	"fmt"
	"strings"
	"time"
)

// Channel identifies a marketing channel a client posts to.
type Channel string

const (
	ChannelFacebook  Channel = "facebook"
	ChannelInstagram Channel = "instagram"
	ChannelTikTok    Channel = "tiktok"
	ChannelLinkedIn  Channel = "linkedin"
	ChannelYouTube   Channel = "youtube"
	ChannelGMB       Channel = "gmb"
	ChannelReddit    Channel = "reddit"
	ChannelEmail     Channel = "email"
	ChannelX         Channel = "x"
)

// AllChannels lists every supported channel in a stable order.
var AllChannels = []Channel{
	ChannelFacebook,
	ChannelInstagram,
	ChannelTikTok,
	ChannelLinkedIn,
	ChannelYouTube,
	ChannelGMB,
	ChannelReddit,
	ChannelEmail,
	ChannelX,
}

// ParseChannel validates a raw channel string from an API request or
// database row. Unknown channels are rejected at the boundary so the
// engine never operates on a channel it has no frequency or spacing
// rules for.
func ParseChannel(raw string) (Channel, error) {
	c := Channel(raw)
	for _, known := range AllChannels {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", raw)
}

// IsValid reports whether c is one of the supported channels.
func (c Channel) IsValid() bool {
	_, err := ParseChannel(string(c))
	return err == nil
}

func (c Channel) String() string {
	return string(c)
}

// ChannelState tracks the posting health of one (client, channel)
// relationship. All scores live in [0,1]. Rows are created lazily on
// first reference and never deleted.
type ChannelState struct {
	ClientID        string     `json:"client_id"`
	Channel         Channel    `json:"channel"`
	FatigueScore    float64    `json:"fatigue_score"`
	MomentumScore   float64    `json:"momentum_score"`
	VisibilityScore float64    `json:"visibility_score"`
	EngagementScore float64    `json:"engagement_score"`
	LastPostAt      *time.Time `json:"last_post_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// StateDelta is a bounded adjustment applied to a ChannelState. Values
// are increments (negative for decay); the store clamps the resulting
// scores to [0,1].
type StateDelta struct {
	Fatigue    float64    `json:"fatigue,omitempty"`
	Momentum   float64    `json:"momentum,omitempty"`
	Visibility float64    `json:"visibility,omitempty"`
	Engagement float64    `json:"engagement,omitempty"`
	LastPostAt *time.Time `json:"last_post_at,omitempty"`
}

// ClientPolicy holds per-client content policy configuration.
type ClientPolicy struct {
	ClientID           string    `json:"client_id"`
	DisabledCategories []string  `json:"disabled_categories"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CategoryDisabled reports whether a content category is disabled for
// this client. Stored categories are normalized to lowercase, but asset
// categories come from an external producer, so matching ignores case.
func (p *ClientPolicy) CategoryDisabled(category string) bool {
	if p == nil || category == "" {
		return false
	}
	for _, disabled := range p.DisabledCategories {
		if strings.EqualFold(disabled, category) {
			return true
		}
	}
	return false
}
