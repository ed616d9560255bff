package models

// RemoteHost holds the connection parameters of a remote target, resolved
// from the target host and the user's ssh client configuration.
type RemoteHost struct {
	Alias      string
	HostName   string
	Port       int
	Username   string
	PrivateKey []byte // loaded from file path
	KeyPath    string // path to key file
}

// RemoteResult holds the result of a remote command.
type RemoteResult struct {
	CommandRun bool
	Output     string
	Error      error
}
