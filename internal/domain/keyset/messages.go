package keyset

// User-facing messages.
const (
	msgLoaded     = "API keys loaded"
	msgCreated    = "API key created successfully!"
	msgUpdated    = "API key updated successfully!"
	msgDeleted    = "API key deleted successfully!"
	msgConnected  = "Connected successfully"
	msgConnFailed = "Connection failed: "

	MsgNoKey    = "no key provided."
	MsgValid    = "API key is valid and active"
	MsgNotFound = "API key not found or invalid."
)
