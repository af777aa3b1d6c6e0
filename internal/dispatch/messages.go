package dispatch

// Texts the agent sends.
const (
	WelcomeMessage = "⚡ Hey chad, I'm XBTify, your own ai clone.\n\nLet's get you XBT pilled 🗿\n\nJust tell me that you want to create your ai clone and I'll lock you in."

	ActionsMessage = "👋 Welcome to XBTify XMTP Agent!\n\nLemme cook your ai clone.\n\nChoose an action below:"

	DefaultActionsMessage = "Hey brother, I'm XBTify. You can hit me here tagging @xbtify.base.eth, just let me know when you want to have your ai clone and your time back. 🗿"

	DefaultActionsMessage2 = "These are the actions you can perform: "

	HelpHintMessage = "Hey brother, I'm XBTify. You can hit me here tagging @xbtify.base.eth, just let me know when you want to have your ai clone and I'll lock you in."

	StartMessage = "🔍 Tag me (@xbtify.base.eth) and tell that you want to clone yourself\n\nE.g.\nHey @xbtify.base.eth clone myself"

	openAppTemplate = "💸 explore group stats on the app %s"

	unknownActionTemplate = "❌ Unknown action: %s"
	actionErrorTemplate   = "❌ Error: %s"

	noAgentAddressMessage = "❌ Unable to get agent address"
)

// ThinkingEmoji marks a message the agent is working on.
const ThinkingEmoji = "👀"
