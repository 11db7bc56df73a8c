package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// AlertSender posts job outcomes and arbitrage opportunities to the
// configured Discord channels. External monitoring consumes the log lines;
// Discord is for the humans watching the market.
type AlertSender struct {
	session  *discordgo.Session
	channels []string
}

// NewAlertSender opens a Discord session. Returns nil (and logs why) when
// the bot is not configured; callers treat a nil sender as "alerts off".
func NewAlertSender(token, channelIDs string) *AlertSender {
	if token == "" {
		log.Println("[W] [Alerts] DISCORD_BOT_TOKEN not set. Alerts disabled.")
		return nil
	}

	var channels []string
	for _, id := range strings.Split(channelIDs, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			channels = append(channels, trimmed)
		}
	}
	if len(channels) == 0 {
		log.Println("[W] [Alerts] No valid channel IDs in DISCORD_CHANNEL_IDS. Alerts disabled.")
		return nil
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		log.Printf("[E] [Alerts] Error creating Discord session: %v", err)
		return nil
	}
	if err := dg.Open(); err != nil {
		log.Printf("[E] [Alerts] Error opening Discord connection: %v", err)
		return nil
	}

	log.Printf("[I] [Alerts] Discord alerts enabled on %d channel(s).", len(channels))
	return &AlertSender{session: dg, channels: channels}
}

// Close shuts the Discord session down.
func (a *AlertSender) Close() {
	if a != nil && a.session != nil {
		a.session.Close()
	}
}

func (a *AlertSender) broadcast(message string) {
	if a == nil {
		return
	}
	for _, channel := range a.channels {
		if _, err := a.session.ChannelMessageSend(channel, message); err != nil {
			log.Printf("[E] [Alerts] Failed to send to channel %s: %v", channel, err)
		}
	}
}

// NotifyJobFinished announces a job's terminal status.
func (a *AlertSender) NotifyJobFinished(job *CollectionJob) {
	if a == nil {
		return
	}
	switch job.Status {
	case StatusCompleted:
		a.broadcast(fmt.Sprintf("✅ Collection `%s` (%s) completed: %d items from %d pages, %d slots skipped.",
			job.ID[:8], job.Mode, job.ItemsSaved, job.PagesScanned, job.SlotsSkipped))
	case StatusFailed:
		a.broadcast(fmt.Sprintf("❌ Collection `%s` (%s) failed: %s", job.ID[:8], job.Mode, job.ErrorMessage))
	case StatusSkipped:
		a.broadcast(fmt.Sprintf("⏭️ Fixed collection at %s skipped: another collection was running.",
			job.StartedAt.Format("15:04")))
	}
}

// NotifyOpportunities announces newly detected arbitrage spreads.
func (a *AlertSender) NotifyOpportunities(ops []ArbitrageOpportunity) {
	if a == nil || len(ops) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💰 %d arbitrage opportunities detected:\n", len(ops))
	for _, op := range ops {
		fmt.Fprintf(&b, "- **%s**: %d (%s) → %d (%s), %.0f%% margin\n",
			op.ItemName, op.LowestPrice, op.LowestSeller, op.HighestPrice, op.HighestSeller, op.ProfitMargin)
	}
	a.broadcast(b.String())
}
