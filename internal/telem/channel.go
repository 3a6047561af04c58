package telem

// Channel is a named, typed time series in the registry.
type Channel struct {
	Key      ChannelKey
	Name     string
	DataType DataType
	// Index is the key of the channel holding this channel's timestamps.
	// Zero means the channel has no index.
	Index ChannelKey
	// IsIndex marks channels that hold only timestamps.
	IsIndex bool
}

// Device is a piece of hardware reachable by the driver. For HTTP devices
// Properties holds the connection configuration encoded as JSON.
type Device struct {
	Key        string
	Name       string
	Properties []byte
}
