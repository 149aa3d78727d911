package planner

import (
	"time"

	"flotilla/pkg/models"
)

// Cadence holds the per-channel posting rhythm: how often a channel
// posts per week, at which UTC hours engagement peaks, how far apart
// two posts must sit, and which channel wins a timing conflict.
type Cadence struct {
	WeeklyFrequency map[models.Channel]int
	OptimalHours    map[models.Channel][]int
	Spacing         map[models.Channel]time.Duration
	DefaultSpacing  time.Duration
	Priority        map[models.Channel]int
}

// DefaultCadence returns the standard posting rhythm tables
func DefaultCadence() Cadence {
	return Cadence{
		WeeklyFrequency: map[models.Channel]int{
			models.ChannelFacebook:  5,
			models.ChannelInstagram: 7,
			models.ChannelTikTok:    14,
			models.ChannelLinkedIn:  5,
			models.ChannelYouTube:   2,
			models.ChannelGMB:       3,
			models.ChannelReddit:    3,
			models.ChannelEmail:     2,
			models.ChannelX:         10,
		},
		OptimalHours: map[models.Channel][]int{
			models.ChannelFacebook:  {9, 13, 19},
			models.ChannelInstagram: {8, 12, 17, 20},
			models.ChannelTikTok:    {7, 11, 15, 19, 21},
			models.ChannelLinkedIn:  {8, 10, 14},
			models.ChannelYouTube:   {15},
			models.ChannelGMB:       {9, 14},
			models.ChannelReddit:    {10, 18},
			models.ChannelEmail:     {9},
			models.ChannelX:         {8, 11, 14, 17, 20},
		},
		Spacing: map[models.Channel]time.Duration{
			models.ChannelLinkedIn: 12 * time.Hour,
			models.ChannelYouTube:  48 * time.Hour,
			models.ChannelEmail:    24 * time.Hour,
			models.ChannelGMB:      12 * time.Hour,
		},
		DefaultSpacing: 4 * time.Hour,
		Priority: map[models.Channel]int{
			models.ChannelYouTube:   1,
			models.ChannelEmail:     2,
			models.ChannelLinkedIn:  3,
			models.ChannelGMB:       4,
			models.ChannelFacebook:  5,
			models.ChannelReddit:    6,
			models.ChannelInstagram: 7,
			models.ChannelTikTok:    8,
			models.ChannelX:         9,
		},
	}
}

// SpacingFor returns the minimum gap between two posts on a channel.
func (c Cadence) SpacingFor(channel models.Channel) time.Duration {
	if spacing, ok := c.Spacing[channel]; ok {
		return spacing
	}
	return c.DefaultSpacing
}

// HoursFor returns the optimal posting hours for a channel, ascending.
func (c Cadence) HoursFor(channel models.Channel) []int {
	if hours, ok := c.OptimalHours[channel]; ok && len(hours) > 0 {
		return hours
	}
	return []int{9}
}

// PriorityOf ranks a channel for conflict resolution; lower wins.
func (c Cadence) PriorityOf(channel models.Channel) int {
	if priority, ok := c.Priority[channel]; ok {
		return priority
	}
	return len(models.AllChannels) + 1
}
