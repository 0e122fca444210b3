// Package hostapi holds the accessors passed to script handlers: embed
// helpers, storage, HTTP, the scheduler and time helpers.
//
// Exported methods are visible to scripts with a lower-cased first letter
// (CreateEmbed becomes createEmbed).
package hostapi

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	ColorSuccess = 0x2ECC71
	ColorError   = 0xE74C3C
	ColorInfo    = 0x3498DB
)

// Embed is a chainable builder around a Discord embed.
type Embed struct {
	e *discordgo.MessageEmbed
}

func NewEmbed() *Embed {
	return &Embed{e: &discordgo.MessageEmbed{Type: discordgo.EmbedTypeRich}}
}

func (b *Embed) SetTitle(title string) *Embed {
	b.e.Title = title
	return b
}

func (b *Embed) SetDescription(description string) *Embed {
	b.e.Description = description
	return b
}

func (b *Embed) SetColor(color int) *Embed {
	b.e.Color = color
	return b
}

func (b *Embed) SetURL(url string) *Embed {
	b.e.URL = url
	return b
}

func (b *Embed) SetThumbnail(url string) *Embed {
	b.e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: url}
	return b
}

func (b *Embed) SetImage(url string) *Embed {
	b.e.Image = &discordgo.MessageEmbedImage{URL: url}
	return b
}

func (b *Embed) SetFooter(text, iconURL string) *Embed {
	b.e.Footer = &discordgo.MessageEmbedFooter{Text: text, IconURL: iconURL}
	return b
}

func (b *Embed) SetTimestamp(t time.Time) *Embed {
	b.e.Timestamp = t.UTC().Format(time.RFC3339)
	return b
}

func (b *Embed) AddField(name, value string, inline bool) *Embed {
	b.e.Fields = append(b.e.Fields, &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline})
	return b
}

// Build returns the embed to send.
func (b *Embed) Build() *discordgo.MessageEmbed {
	return b.e
}

// FooterSource is what AddDefaultFooter reads from. The command interaction
// implements it.
type FooterSource interface {
	FooterText() string
	AvatarURL() string
}

// Utils is the "utils" accessor. The colours are read by scripts as
// utils.SUCCESS_COLOR, utils.ERROR_COLOR and utils.INFO_COLOR.
type Utils struct {
	SuccessColor int `js:"SUCCESS_COLOR"`
	ErrorColor   int `js:"ERROR_COLOR"`
	InfoColor    int `js:"INFO_COLOR"`

	now func() time.Time
}

func NewUtils() *Utils {
	return &Utils{
		SuccessColor: ColorSuccess,
		ErrorColor:   ColorError,
		InfoColor:    ColorInfo,
		now:          time.Now,
	}
}

// CreateEmbed returns a builder with title, description, color and the
// current time set.
func (u *Utils) CreateEmbed(title, description string, color int) *Embed {
	return NewEmbed().
		SetTitle(title).
		SetDescription(description).
		SetColor(color).
		SetTimestamp(u.now())
}

func (u *Utils) CreateSuccessEmbed(title, description string) *Embed {
	return u.CreateEmbed(title, description, ColorSuccess)
}

func (u *Utils) CreateErrorEmbed(title, description string) *Embed {
	return u.CreateEmbed(title, description, ColorError)
}

func (u *Utils) CreateInfoEmbed(title, description string) *Embed {
	return u.CreateEmbed(title, description, ColorInfo)
}

// AddDefaultFooter sets the standard footer (latency, requester) from src.
func (u *Utils) AddDefaultFooter(b *Embed, src FooterSource) *Embed {
	if b == nil || src == nil {
		return b
	}
	return b.SetFooter(src.FooterText(), src.AvatarURL())
}
