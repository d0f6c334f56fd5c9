package gateway

// Command is a client→server frame on a live connection
type Command struct {
	Action     string   `json:"action"`
	EventTypes []string `json:"event_types"`
}

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

// connectionEstablished is sent once, immediately after a successful upgrade
type connectionEstablished struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

// subscriptionUpdate acks a subscribe/unsubscribe command
type subscriptionUpdate struct {
	Type       string   `json:"type"`
	Status     string   `json:"status"`
	EventTypes []string `json:"event_types"`
}

// errorMessage reports a malformed or unknown command to the client
type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
