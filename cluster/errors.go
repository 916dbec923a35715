package cluster

import "errors"

var (
	// ErrQuorumNotMet is returned when too few nodes acknowledge a quorum write.
	ErrQuorumNotMet = errors.New("cluster: quorum not met")

	// ErrReplicationFailed is returned when a strong write misses any replica.
	ErrReplicationFailed = errors.New("cluster: replication failed")

	// ErrNoPeer is returned when a key's owner has no open connection.
	ErrNoPeer = errors.New("cluster: no connection to owner")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cluster: coordinator closed")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("cluster: invalid configuration")
)
