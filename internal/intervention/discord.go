package intervention

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordAPI is the subset of *discordgo.Session used for delivery.
type DiscordAPI interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var snowflake = regexp.MustCompile(`^[0-9]{17,20}$`)

// Embed colors by notice level.
const (
	colorCritical = 0xE74C3C
	colorHigh     = 0xE67E22
	colorMedium   = 0xF1C40F
	colorInfo     = 0x2ECC71
)

// DiscordNotifier DMs users whose ID is a Discord snowflake and posts
// urgent notices to a moderator channel.
type DiscordNotifier struct {
	api          DiscordAPI
	alertChannel string
}

// NewDiscordNotifier creates a notifier. alertChannel may be empty.
func NewDiscordNotifier(api DiscordAPI, alertChannel string) *DiscordNotifier {
	return &DiscordNotifier{api: api, alertChannel: alertChannel}
}

// OpenDiscord creates a REST-only bot session.
func OpenDiscord(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return s, nil
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Notify(ctx context.Context, n *Notice) error {
	embed := buildEmbed(n)
	opt := discordgo.WithContext(ctx)

	var errs []error
	if snowflake.MatchString(n.UserID) {
		ch, err := d.api.UserChannelCreate(n.UserID, opt)
		if err == nil {
			_, err = d.api.ChannelMessageSendEmbed(ch.ID, embed, opt)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("dm %s: %w", n.UserID, err))
		}
	}
	if d.alertChannel != "" && n.Urgent() {
		mod := *embed
		mod.Description = fmt.Sprintf("User: %s\n\n%s", mention(n.UserID), embed.Description)
		if _, err := d.api.ChannelMessageSendEmbed(d.alertChannel, &mod, opt); err != nil {
			errs = append(errs, fmt.Errorf("alert channel: %w", err))
		}
	}
	return errors.Join(errs...)
}

func mention(userID string) string {
	if snowflake.MatchString(userID) {
		return "<@" + userID + ">"
	}
	return userID
}

func buildEmbed(n *Notice) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       embedColor(n.Level),
		Timestamp:   n.CreatedAt.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "TiltCheck"},
	}
	if len(n.Actions) > 0 {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  "Recommended",
			Value: strings.ReplaceAll(strings.Join(n.Actions, "\n"), "_", " "),
		})
	}
	return e
}

func embedColor(level string) int {
	switch level {
	case "CRITICAL":
		return colorCritical
	case "HIGH", "HIGH_RISK", "MODERATE_HIGH":
		return colorHigh
	case "MEDIUM", "MODERATE_RISK":
		return colorMedium
	}
	return colorInfo
}
