package protocol

// RPC method names used against the agent gateway.
const (
	MethodConnect  = "connect"
	MethodChatSend = "chat.send"
	MethodHealth   = "health"
)
