package cnst

const (
	// AppName is the application name
	AppName = "chatmesh"
	// CommandName is the name of the server binary
	CommandName = "chatmesh"
)
