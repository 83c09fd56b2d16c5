package dialog

import "github.com/dkalashnik/openwrite/pkg/bot"

// Commands is the menu published to Telegram on startup.
func Commands() []bot.Command {
	return []bot.Command{
		{Name: CommandStart, Description: "Show today's prompt"},
		{Name: CommandDone, Description: "Submit before the timer ends"},
		{Name: CommandTime, Description: "Time left in the session"},
		{Name: CommandAnon, Description: "Toggle anonymous submission"},
		{Name: CommandLogin, Description: "Sign in with your API token"},
		{Name: CommandLogout, Description: "Sign out"},
		{Name: CommandSubscribe, Description: "Join the waitlist for updates"},
		{Name: CommandCancel, Description: "Stop waiting for an email address"},
	}
}
