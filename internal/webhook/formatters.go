package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dicklesworthstone/licrm/internal/events"
	"github.com/Dicklesworthstone/licrm/internal/progress"
	"github.com/Dicklesworthstone/licrm/internal/scheduler"
)

type Format string

const (
	FormatJSON    Format = "json"
	FormatSlack   Format = "slack"
	FormatDiscord Format = "discord"
)

// ParseFormat accepts a payload format name, case-insensitively.
func ParseFormat(format string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(format))); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatSlack, FormatDiscord:
		return f, nil
	default:
		return "", fmt.Errorf("unknown webhook format %q (supported: json, slack, discord)", strings.TrimSpace(format))
	}
}

func buildPayload(e events.Event, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(jsonPayload{Event: e, Message: progress.FormatIn(e, time.UTC)})
	case FormatSlack:
		return json.Marshal(buildSlackPayload(e))
	case FormatDiscord:
		return json.Marshal(buildDiscordPayload(e))
	default:
		return nil, fmt.Errorf("unknown webhook format %q", format)
	}
}

type jsonPayload struct {
	events.Event
	Message string `json:"message"`
}

func formatTitle(e events.Event) string {
	if e.Kind == "" {
		return "licrm event"
	}
	return "licrm: " + string(e.Kind)
}

func formatRFC3339(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

// eventFields lists the populated details of e in a fixed order.
func eventFields(e events.Event) [][2]string {
	var out [][2]string
	if e.ID != "" {
		out = append(out, [2]string{"License", e.ID})
	}
	if e.Total > 0 {
		out = append(out, [2]string{"Progress", fmt.Sprintf("%d of %d", e.Removed, e.Total)})
	}
	if e.Code != 0 {
		out = append(out, [2]string{"Code", strconv.Itoa(e.Code)})
	}
	if e.CooldownRemaining > 0 {
		out = append(out, [2]string{"Cooldown", scheduler.FormatCountdown(e.CooldownRemaining)})
	}
	if e.Attempt > 0 {
		out = append(out, [2]string{"Attempt", strconv.Itoa(e.Attempt)})
	}
	if len(e.Abandoned) > 0 {
		out = append(out, [2]string{"Abandoned", strings.Join(e.Abandoned, ", ")})
	}
	return out
}

// =============================================================================
// Slack
// =============================================================================

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

func buildSlackPayload(e events.Event) slackPayload {
	title := formatTitle(e)
	summary := progress.FormatIn(e, time.UTC)

	fields := make([]slackText, 0, 6)
	for _, pair := range eventFields(e) {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:* %s", pair[0], pair[1])})
	}
	if ts := formatRFC3339(e.Time); ts != "" {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Time:* %s", ts)})
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: title, Emoji: true},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: summary},
		},
	}
	// Slack rejects section blocks with more than ten fields.
	if len(fields) > 10 {
		fields = fields[:10]
	}
	if len(fields) > 0 {
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}

	return slackPayload{
		Text:   title + ": " + summary,
		Blocks: blocks,
	}
}

// =============================================================================
// Discord
// =============================================================================

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

func discordColorForSeverity(s events.Severity) int {
	switch s {
	case events.SeverityError:
		return 0xE74C3C
	case events.SeverityWarning:
		return 0xF1C40F
	case events.SeveritySuccess:
		return 0x2ECC71
	default:
		return 0x3498DB
	}
}

func buildDiscordPayload(e events.Event) discordPayload {
	fields := make([]discordEmbedField, 0, 6)
	for _, pair := range eventFields(e) {
		fields = append(fields, discordEmbedField{Name: pair[0], Value: pair[1], Inline: pair[0] != "Abandoned"})
	}

	embed := discordEmbed{
		Title:       formatTitle(e),
		Description: progress.FormatIn(e, time.UTC),
		Timestamp:   formatRFC3339(e.Time),
		Color:       discordColorForSeverity(e.Kind.Severity()),
		Fields:      fields,
	}

	return discordPayload{
		Content: "licrm notification",
		Embeds:  []discordEmbed{embed},
	}
}
