package model

// Version constants for the wire protocol and the engine.
const (
	// ProtocolVersion is the central sync API generation spoken by this client.
	ProtocolVersion = 5

	// EngineVersion is the sitesync engine version.
	EngineVersion = "0.1.0"
)
