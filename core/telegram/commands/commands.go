// Package commands describes slash commands kept in the registry.
package commands

import tele "gopkg.in/telebot.v4"

// Command is a registered slash command.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// AdminOnly commands run for the configured admin and stay out of the menu.
	AdminOnly bool
	// Hidden commands work but are not published to Telegram.
	Hidden bool
	// Aliases are extra spellings, such as localized menu button labels.
	Aliases []string
}

// Listed reports whether the command belongs in the published command menu.
func (c Command) Listed() bool {
	return !c.Hidden && !c.AdminOnly
}

// Answers reports whether name (with a leading slash) is one of the aliases.
func (c Command) Answers(name string) bool {
	for _, alias := range c.Aliases {
		if alias == name || "/"+alias == name {
			return true
		}
	}
	return false
}
