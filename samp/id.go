package samp

import "github.com/google/uuid"

// NewPrivateKey generates the private key handed to a client at
// registration. Knowledge of the key is the client's only credential, so
// keys must be unguessable.
func NewPrivateKey() string {
	return uuid.NewString()
}

// NewSecret generates the hub registration secret published in the
// lockfile.
func NewSecret() string {
	return uuid.NewString()
}

// NewMsgID generates a hub-unique identifier correlating a routed call
// with its eventual reply.
func NewMsgID() string {
	return uuid.NewString()
}
