package dialog

const (
	CommandStart     = "start"
	CommandLogin     = "login"
	CommandLogout    = "logout"
	CommandTime      = "time"
	CommandDone      = "done"
	CommandAnon      = "anon"
	CommandSubscribe = "subscribe"
	CommandCancel    = "cancel"
)

const (
	CallbackSessionPrefix = "session:"
	CallbackCopyPrefix    = "copy:"

	ActionStart  = "start"
	ActionSubmit = "submit"
	ActionAnon   = "anon"

	ActionCopyEmail = "email"
	ActionCopyChat  = "chat"
)

const (
	ButtonStart      = "✍️ Start writing"
	ButtonSubmit     = "✅ Submit now"
	ButtonAnonOn     = "🕶 Anonymous: on"
	ButtonAnonOff    = "👤 Anonymous: off"
	ButtonEmailCopy  = "✉️ Email me a copy"
	ButtonSendToChat = "📋 Send to this chat"
)
