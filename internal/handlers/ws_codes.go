package handlers

// Custom websocket close codes for topic endpoints, more specific than the
// standard policy-violation code.
const (
	BadSubprotocolError   = 3000 // unsupported subprotocol on connect
	InvalidAuthTokenError = 3001 // session token invalid or expired
	InvalidGameIDError    = 3002 // game id in the URL is malformed or unknown
)
